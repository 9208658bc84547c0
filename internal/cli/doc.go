// Package cli — команды управления Reelforge через HTTP API.
//
// CLI общается только с reelforge-api и не трогает БД или брокер:
//
//	reelforge job submit "space facts" --platform tiktok --duration 30
//	reelforge job watch <id>
//	reelforge job cancel <id>
//	reelforge job artifact <id>
package cli
