package main

import (
	"os"
	"time"

	"hybrid-ids/internal/alert"
	"hybrid-ids/internal/rules"
	"hybrid-ids/internal/storage"
	"hybrid-ids/internal/utils"

	"github.com/sirupsen/logrus"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// registerAlertNotifiers wires the enabled alert channels into the engine and
// returns a function releasing their connections.
func registerAlertNotifiers(engine *rules.Engine, config *utils.Config, store storage.Store, logger *logrus.Logger) func() {
	channels := config.Alerting.Channels
	closers := []func(){}

	if channels.Log {
		engine.RegisterNotifier(alert.NewLogAlertNotifier(logger))
	}

	if channels.Console {
		engine.RegisterNotifier(alert.NewConsoleNotifier(os.Stdout))
	}

	if channels.Store {
		engine.RegisterNotifier(storage.AlertWriter{Store: store})
	}

	if channels.Telegram {
		engine.RegisterNotifier(newTelegramNotifier(config, logger))
	}

	if channels.NATS {
		natsNotifier, err := alert.NewNATSNotifier(config.Alerting.NATS.URL, config.Alerting.NATS.Subject, logger)
		if err != nil {
			logger.Warnf("NATS alert channel disabled: %v", err)
		} else {
			engine.RegisterNotifier(natsNotifier)
			closers = append(closers, natsNotifier.Close)
		}
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}

func newTelegramNotifier(config *utils.Config, logger *logrus.Logger) *alert.TelegramNotifier {
	tg := config.Alerting.Telegram
	return alert.NewTelegramNotifier(alert.TelegramConfig{
		BotToken:        tg.BotToken,
		ChatID:          tg.ChatID,
		ParseMode:       tg.ParseMode,
		Enabled:         true,
		MessageTemplate: tg.MessageTemplate,
	}, logger)
}
