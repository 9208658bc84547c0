// Package mq — событийная шина Reelforge поверх RabbitMQ.
//
// Топология: exchange reelforge.jobs (submission и отмена),
// reelforge.stages (диспетчеризация и завершение stages),
// reelforge.dlq (poison-сообщения). Все сервисы деградируют
// до polling по БД, если брокер недоступен.
package mq
