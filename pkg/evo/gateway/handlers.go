package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jholhewres/evo/pkg/evo/memory"
)

const version = "1.0.0"

// settingsRequest is the body of PUT /api/servers/{id}/settings. Absent
// fields keep their stored value; an empty string clears the field.
type settingsRequest struct {
	BotName             *string `json:"bot_name"`
	DesignatedChannel   *string `json:"designated_channel"`
	PersonalityOverride *string `json:"personality_override"`
	AIModel             *string `json:"ai_model"`
	APIKey              *string `json:"api_key"`
	BackupAPIKey        *string `json:"backup_api_key"`
	CustomAvatarURL     *string `json:"custom_avatar_url"`
}

// settingsValues holds the supplied, trimmed request values for validation.
// Empty strings are either absent or cleared and are never checked.
type settingsValues struct {
	BotName             string `json:"bot_name" validate:"omitempty,max=32"`
	DesignatedChannel   string `json:"designated_channel" validate:"omitempty,channel_ref"`
	PersonalityOverride string `json:"personality_override" validate:"omitempty,max=4000"`
	AIModel             string `json:"ai_model" validate:"omitempty,max=100,printascii"`
	APIKey              string `json:"api_key" validate:"omitempty,min=8,max=512"`
	BackupAPIKey        string `json:"backup_api_key" validate:"omitempty,min=8,max=512"`
	CustomAvatarURL     string `json:"custom_avatar_url" validate:"omitempty,url,max=2048"`
}

func (r settingsRequest) values() settingsValues {
	v := func(s *string) string {
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	}
	return settingsValues{
		BotName:             v(r.BotName),
		DesignatedChannel:   v(r.DesignatedChannel),
		PersonalityOverride: v(r.PersonalityOverride),
		AIModel:             v(r.AIModel),
		APIKey:              v(r.APIKey),
		BackupAPIKey:        v(r.BackupAPIKey),
		CustomAvatarURL:     v(r.CustomAvatarURL),
	}
}

// settingsResponse never carries key material, only whether keys are set.
type settingsResponse struct {
	ServerID            string    `json:"server_id"`
	BotName             string    `json:"bot_name"`
	DesignatedChannel   string    `json:"designated_channel"`
	PersonalityOverride string    `json:"personality_override"`
	AIModel             string    `json:"ai_model"`
	CustomAvatarURL     string    `json:"custom_avatar_url"`
	HasAPIKey           bool      `json:"has_api_key"`
	HasBackupAPIKey     bool      `json:"has_backup_api_key"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}

func toResponse(cfg *memory.ServerConfig) settingsResponse {
	return settingsResponse{
		ServerID:            cfg.ServerID,
		BotName:             cfg.BotName,
		DesignatedChannel:   cfg.DesignatedChannel,
		PersonalityOverride: cfg.PersonalityOverride,
		AIModel:             cfg.AIModel,
		CustomAvatarURL:     cfg.CustomAvatarURL,
		HasAPIKey:           cfg.EncryptedPrimaryKey != "",
		HasBackupAPIKey:     cfg.EncryptedBackupKey != "",
		UpdatedAt:           cfg.UpdatedAt,
	}
}

var snowflake = regexp.MustCompile(`^[0-9]{15,21}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("channel_ref", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == memory.AllChannels || snowflake.MatchString(s)
	})
	_ = v.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
		return snowflake.MatchString(fl.Field().String())
	})
	return v
}

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string   `json:"message"`
		Code    int      `json:"code"`
		Fields  []string `json:"fields,omitempty"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int, fields ...string) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	resp.Error.Fields = fields
	g.writeJSON(w, code, resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(g.checks))
	for name, check := range g.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	g.writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    version,
		"uptime":     uptime,
		"components": components,
	})
}

// handleServerSettings routes /api/servers/{id}/settings by method.
func (g *Gateway) handleServerSettings(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/servers/")
	serverID, tail, _ := strings.Cut(rest, "/")
	if tail != "settings" {
		g.writeError(w, "not found", http.StatusNotFound)
		return
	}
	if err := g.validate.Var(serverID, "required,snowflake"); err != nil {
		g.writeError(w, "invalid server id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		g.handleGetSettings(w, r, serverID)
	case http.MethodPut:
		g.handlePutSettings(w, r, serverID)
	case http.MethodDelete:
		g.handleDeleteServer(w, r, serverID)
	default:
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleGetSettings(w http.ResponseWriter, r *http.Request, serverID string) {
	cfg, err := g.configs.LoadServerConfig(r.Context(), serverID)
	if err != nil {
		g.logger.Error("loading settings", "server_id", serverID, "error", err)
		g.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		g.writeError(w, "server not configured", http.StatusNotFound)
		return
	}
	g.writeJSON(w, http.StatusOK, toResponse(cfg))
}

func (g *Gateway) handlePutSettings(w http.ResponseWriter, r *http.Request, serverID string) {
	var req settingsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		g.writeError(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := g.validate.Struct(req.values()); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			g.writeError(w, "validation failed", http.StatusUnprocessableEntity, fields...)
			return
		}
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := g.configs.LoadServerConfig(r.Context(), serverID)
	if err != nil {
		g.logger.Error("loading settings", "server_id", serverID, "error", err)
		g.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	created := cfg == nil
	if created {
		cfg = &memory.ServerConfig{ServerID: serverID}
	}

	if err := g.apply(cfg, req); err != nil {
		g.logger.Error("encrypting api key", "server_id", serverID, "error", err)
		g.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := g.configs.SaveServerConfig(r.Context(), *cfg); err != nil {
		g.logger.Error("saving settings", "server_id", serverID, "error", err)
		g.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	g.logger.Info("settings saved", "server_id", serverID, "created", created)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	g.writeJSON(w, status, toResponse(cfg))
}

// apply merges the request into cfg, encrypting any new keys.
func (g *Gateway) apply(cfg *memory.ServerConfig, req settingsRequest) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&cfg.BotName, req.BotName)
	set(&cfg.DesignatedChannel, req.DesignatedChannel)
	set(&cfg.AIModel, req.AIModel)
	set(&cfg.CustomAvatarURL, req.CustomAvatarURL)
	if req.PersonalityOverride != nil {
		cfg.PersonalityOverride = *req.PersonalityOverride
	}

	encrypt := func(dst *string, src *string) error {
		if src == nil {
			return nil
		}
		plain := strings.TrimSpace(*src)
		if plain == "" {
			*dst = ""
			return nil
		}
		enc, err := g.cipher.Encrypt(plain)
		if err != nil {
			return err
		}
		*dst = enc
		return nil
	}
	if err := encrypt(&cfg.EncryptedPrimaryKey, req.APIKey); err != nil {
		return err
	}
	return encrypt(&cfg.EncryptedBackupKey, req.BackupAPIKey)
}

func (g *Gateway) handleDeleteServer(w http.ResponseWriter, r *http.Request, serverID string) {
	err := g.configs.DeleteServer(r.Context(), serverID)
	if errors.Is(err, memory.ErrServerNotFound) {
		g.writeError(w, "server not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		g.logger.Error("deleting server", "server_id", serverID, "error", err)
		g.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.logger.Info("server removed", "server_id", serverID)
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
