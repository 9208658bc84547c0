// Package domain содержит доменную модель Reelforge.
//
// Центральные сущности:
//   - Job — один запрос на генерацию контента и его жизненный цикл
//   - Stage — единица работы внутри job, привязанная к одной capability
//   - JobSpec — неизменяемый запрос (платформа, аудитория, тема, длительность, тон)
//   - RetryPolicy — политика повторных попыток по типу stage
//
// Инварианты модели:
//   - stage стартует только когда все его зависимости SUCCEEDED
//   - на stage в каждый момент не больше одной in-flight попытки
//   - статус job — чистая функция статусов его stages
//   - переходы статусов монотонны: из терминального статуса возврата нет
package domain
