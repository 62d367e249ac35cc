package account

import (
	"path"
	"strings"
	"time"

	"outreachd/internal/autoreply"
	"outreachd/internal/config"
	"outreachd/internal/dispatch"
	"outreachd/internal/platform"
	"outreachd/internal/retryq"
	"outreachd/internal/rotation"
)

// The config tree was validated before it got here, so duration parse
// failures collapse to zero and the component defaults take over.

func dur(raw string) time.Duration {
	d, _ := config.ParseDurationField("", raw)
	return d
}

func buildSettings(cfg config.AccountConfig) dispatch.Settings {
	return dispatch.Settings{
		Pool:        platform.Pool(cfg.Pool),
		AutoAdvance: cfg.AutoAdvance,
		PhotoOnly:   cfg.PhotoOnly,
		CustomIDs:   cfg.CustomIDs,

		Templates:      cfg.Templates,
		RotationWindow: dur(cfg.Rotation.Window),
		RotationCyclic: cfg.Rotation.Cyclic,

		Attachment: buildAttachment(cfg.Attachment),

		Smart:      cfg.Delay.Smart,
		SmartMin:   dur(cfg.Delay.SmartMin),
		SmartMax:   dur(cfg.Delay.SmartMax),
		FixedDelay: dur(cfg.Delay.Fixed),
	}
}

func buildAttachment(url string) *platform.Attachment {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	return &platform.Attachment{Name: path.Base(url), URL: url}
}

func buildRotation(cfg config.AccountConfig) rotation.Config {
	return rotation.Config{
		TemplateCount: len(cfg.Templates),
		Window:        dur(cfg.Rotation.Window),
		Cyclic:        cfg.Rotation.Cyclic,
	}
}

func buildRetry(cfg config.AccountConfig) retryq.Config {
	return retryq.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Cooldown:    dur(cfg.Retry.Cooldown),
	}
}

func buildAutoReply(cfg config.AccountConfig) autoreply.Config {
	ar := cfg.AutoReply
	if ar == nil {
		return autoreply.Config{}
	}
	steps := make([]autoreply.Step, 0, len(ar.Steps))
	for _, st := range ar.Steps {
		steps = append(steps, autoreply.Step{Delay: dur(st.Delay), Body: st.Body})
	}
	return autoreply.Config{
		Enabled:     ar.Enabled,
		Steps:       steps,
		SendTimeout: dur(ar.SendTimeout),
	}
}
