package handler

import (
	"net/http"

	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/push"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg  *config.Config
	push *push.Service
}

// NewConfigHandler создаёт обработчик конфигурации.
func NewConfigHandler(cfg *config.Config, pushSvc *push.Service) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, push: pushSvc}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	key := ""
	if h.push != nil {
		key = h.push.PublicKey()
	}
	if key == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": key,
	})
}

// GetSoundConfig отдаёт параметры звуковых сигналов для браузерного клиента: интервал тишины
// между сигналами и ключ локальной настройки, под которым клиент хранит флаг.
func (h *ConfigHandler) GetSoundConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cooldown_ms":     h.cfg.CueCooldown.Milliseconds(),
		"preference_key":  "soundNotificationsEnabled",
		"default_enabled": true,
	})
}
