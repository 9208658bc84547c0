// Package pipeline описывает статическую топологию stages.
//
// Definition — упорядоченная последовательность групп, образующая DAG:
// stages одной группы выполняются параллельно (fan-out), следующая группа
// гейтится успехом всех stages текущей (fan-in). Instantiate создаёт
// граф stages для конкретного job.
//
// Здесь же живут политики retry и дедлайны попыток по типу stage.
package pipeline
