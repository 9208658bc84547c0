// Package assembler реализует stitch-stage — fan-in точку pipeline.
//
// Assembler — единственный потребитель полного набора outputs группы 2:
// склеивает видеосегменты в порядке возрастания сцен, выравнивает
// нарративную дорожку по суммарной длительности и пишет финальный
// контейнер в хранилище артефактов.
package assembler
