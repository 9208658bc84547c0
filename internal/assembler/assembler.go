package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/provider"
	"github.com/shaiso/Reelforge/internal/storage"
)

// ContainerVersion — версия формата финального контейнера.
const ContainerVersion = 1

// maxParallelFetch — ограничение на параллельную загрузку сегментов.
const maxParallelFetch = 4

// SegmentManifest — output video-провайдера: список сегментов по сценам.
type SegmentManifest struct {
	// Segments — сегменты ролика.
	Segments []Segment `json:"segments"`
}

// Segment — один видеосегмент.
type Segment struct {
	// Scene — порядковый номер сцены (с 1).
	Scene int `json:"scene"`

	// Ref — ссылка на блоб сегмента.
	Ref string `json:"ref"`

	// DurationSec — длительность сегмента в секундах.
	DurationSec float64 `json:"duration_sec"`
}

// Header — заголовок финального контейнера.
//
// Контейнер: JSON-заголовок, '\n', видеодорожка (сегменты, склеенные
// в порядке возрастания сцен), нарративная дорожка.
type Header struct {
	Container    int     `json:"reelforge_container"`
	JobID        string  `json:"job_id"`
	Scenes       int     `json:"scenes"`
	DurationSec  float64 `json:"duration_sec"`
	VideoLen     int     `json:"video_len"`
	NarrationLen int     `json:"narration_len"`
	PosterRef    string  `json:"poster_ref,omitempty"`
}

// Assembler — stitch-stage: чистая комбинация артефактов группы 2.
//
// Реализует provider.Provider и регистрируется в worker'е наравне
// с внешними capability. Transient I/O ошибки хранилища ретраятся
// тем же механизмом Stage Executor, без специальной логики.
type Assembler struct {
	store storage.BlobStore
}

// New создаёт Assembler поверх хранилища артефактов.
func New(store storage.BlobStore) *Assembler {
	return &Assembler{store: store}
}

// Submit собирает финальный артефакт из outputs группы 2.
func (a *Assembler) Submit(ctx context.Context, input *provider.StageInput) (*provider.StageOutput, error) {
	videoRef := input.Inputs[string(domain.StageTypeVideo)]
	audioRef := input.Inputs[string(domain.StageTypeAudio)]
	if videoRef == "" || audioRef == "" {
		return nil, provider.Permanent("stitch requires video and audio inputs, got %v", input.Inputs)
	}

	manifest, err := a.fetchManifest(ctx, videoRef)
	if err != nil {
		return nil, err
	}

	segments, totalDuration, err := a.fetchSegments(ctx, manifest)
	if err != nil {
		return nil, err
	}

	narration, err := a.store.Fetch(ctx, audioRef)
	if err != nil {
		return nil, classifyStorageErr("fetch narration", err)
	}

	video := bytes.Join(segments, nil)

	header := Header{
		Container:    ContainerVersion,
		JobID:        input.JobID.String(),
		Scenes:       len(manifest.Segments),
		DurationSec:  totalDuration,
		VideoLen:     len(video),
		NarrationLen: len(narration),
		PosterRef:    input.Inputs[string(domain.StageTypeImage)],
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, provider.Permanent("marshal container header: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(headerJSON)
	buf.WriteByte('\n')
	buf.Write(video)
	buf.Write(narration)

	ref, err := a.store.Store(ctx, buf.Bytes())
	if err != nil {
		return nil, classifyStorageErr("store final artifact", err)
	}

	return &provider.StageOutput{
		Ref: ref,
		Meta: map[string]any{
			"scenes":       header.Scenes,
			"duration_sec": header.DurationSec,
		},
	}, nil
}

// fetchManifest загружает и валидирует манифест сегментов.
func (a *Assembler) fetchManifest(ctx context.Context, ref string) (*SegmentManifest, error) {
	data, err := a.store.Fetch(ctx, ref)
	if err != nil {
		return nil, classifyStorageErr("fetch segment manifest", err)
	}

	var manifest SegmentManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, provider.Permanent("malformed segment manifest: %v", err)
	}
	if len(manifest.Segments) == 0 {
		return nil, provider.Permanent("segment manifest is empty")
	}

	return &manifest, nil
}

// fetchSegments параллельно загружает сегменты и возвращает их
// в порядке возрастания сцен вместе с суммарной длительностью.
func (a *Assembler) fetchSegments(ctx context.Context, manifest *SegmentManifest) ([][]byte, float64, error) {
	ordered := make([]Segment, len(manifest.Segments))
	copy(ordered, manifest.Segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Scene < ordered[j].Scene })

	segments := make([][]byte, len(ordered))
	totalDuration := 0.0
	for _, seg := range ordered {
		totalDuration += seg.DurationSec
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetch)

	for i, seg := range ordered {
		g.Go(func() error {
			data, err := a.store.Fetch(gctx, seg.Ref)
			if err != nil {
				return classifyStorageErr(fmt.Sprintf("fetch segment %d", seg.Scene), err)
			}
			segments[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return segments, totalDuration, nil
}

// classifyStorageErr превращает ошибку хранилища в ошибку провайдера.
// Отсутствующий блоб или битая ссылка — permanent (retry не вернёт данные),
// остальное I/O — transient.
func classifyStorageErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRef) {
		return provider.Permanent("%s: %v", op, err)
	}
	return provider.Transient("%s: %v", op, err)
}
