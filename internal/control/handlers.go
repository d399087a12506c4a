package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/bridge"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/monitor"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/steam"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const defaultEventLimit = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError mirrors the {"error": ...} shape the catalog API uses, so the
// shell renders local and remote failures the same way.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusResponse struct {
	Version           string                `json:"version"`
	BridgeAvailable   bool                  `json:"bridge_available"`
	ActiveChannel     string                `json:"active_channel,omitempty"`
	APIBaseURL        string                `json:"api_base_url"`
	ClientVariant     string                `json:"client_variant"`
	LoggedIn          bool                  `json:"logged_in"`
	DirectoryServers  int                   `json:"directory_servers"`
	DirectorySyncedAt time.Time             `json:"directory_synced_at,omitempty"`
	Monitor           types.MonitorSnapshot `json:"monitor"`
}

func statusHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings := deps.Settings.Current()
		resp := statusResponse{
			Version:       cfg.Version,
			APIBaseURL:    settings.API.BaseURL,
			ClientVariant: settings.ClientVariant,
			Monitor:       deps.Monitor.Status(),
		}
		if deps.BridgeAvailable != nil {
			resp.BridgeAvailable = deps.BridgeAvailable()
		}
		if deps.ActiveChannel != nil {
			resp.ActiveChannel = deps.ActiveChannel()
		}
		if deps.Session != nil {
			resp.LoggedIn = deps.Session.LoggedIn()
		}
		if deps.Directory != nil {
			servers, syncedAt := deps.Directory.Snapshot()
			resp.DirectoryServers = len(servers)
			resp.DirectorySyncedAt = syncedAt
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func serversHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := deps.Catalog.ListServers(r.Context())
		if err != nil {
			deps.Logger.Printf("control: list servers failed: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Servers []types.ServerRecord `json:"servers"`
		}{Servers: servers})
	}
}

type refreshResult struct {
	Target types.ServerTarget  `json:"target"`
	Record *types.ServerRecord `json:"record,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func refreshHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Targets []types.ServerTarget `json:"targets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		targets := req.Targets
		if len(targets) == 0 && deps.Directory != nil {
			// No explicit targets: refresh the whole known directory.
			servers, _ := deps.Directory.Snapshot()
			for _, record := range servers {
				targets = append(targets, record.Target())
			}
		}

		outcomes := deps.Catalog.RefreshAll(r.Context(), targets)
		results := make([]refreshResult, len(outcomes))
		for i, outcome := range outcomes {
			results[i] = refreshResult{Target: outcome.Target}
			if outcome.Err != nil {
				results[i].Error = outcome.Err.Error()
				continue
			}
			record := outcome.Record
			results[i].Record = &record
		}
		writeJSON(w, http.StatusOK, struct {
			Results []refreshResult `json:"results"`
		}{Results: results})
	}
}

func queryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var target types.ServerTarget
		if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(target.Address) == "" || strings.TrimSpace(target.Port) == "" {
			writeError(w, http.StatusBadRequest, "address and port are required")
			return
		}

		occupancy, info := deps.Query.QueryDetail(r.Context(), target)
		writeJSON(w, http.StatusOK, struct {
			Target    types.ServerTarget    `json:"target"`
			Occupancy types.OccupancyResult `json:"occupancy"`
			Info      *types.ServerInfo     `json:"info,omitempty"`
		}{Target: target, Occupancy: occupancy, Info: info})
	}
}

func monitorStatusHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Monitor.Status())
	}
}

type monitorStartRequest struct {
	Target               types.ServerTarget `json:"target"`
	MinSlots             *flexInt           `json:"min_slots"`
	CheckIntervalSeconds *flexInt           `json:"check_interval_seconds"`
}

func monitorStartHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req monitorStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(req.Target.Address) == "" || strings.TrimSpace(req.Target.Port) == "" {
			writeError(w, http.StatusBadRequest, "target address and port are required")
			return
		}

		// Absent fields inherit the persisted settings; provided fields go
		// through the same default-then-clamp path the settings form uses.
		settings := deps.Settings.Current()
		cfg := monitor.Config{
			MinSlots:             settings.MinSlots,
			CheckIntervalSeconds: settings.CheckIntervalSeconds,
		}
		if req.MinSlots != nil {
			cfg.MinSlots = config.ClampMinSlots(req.MinSlots.valueOr(config.DefaultMinSlots))
		}
		if req.CheckIntervalSeconds != nil {
			cfg.CheckIntervalSeconds = config.ClampCheckInterval(req.CheckIntervalSeconds.valueOr(config.DefaultCheckIntervalSeconds))
		}

		if err := deps.Monitor.Start(cfg, req.Target); err != nil {
			if errors.Is(err, monitor.ErrAlreadyActive) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			deps.Logger.Printf("control: monitor start failed: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// The activation's tuning becomes the new persisted default.
		if _, err := deps.Settings.Update(r.Context(), func(s *config.Settings) {
			s.MinSlots = cfg.MinSlots
			s.CheckIntervalSeconds = cfg.CheckIntervalSeconds
		}); err != nil {
			deps.Logger.Printf("control: persist monitor config failed: %v", err)
		}

		writeJSON(w, http.StatusOK, deps.Monitor.Status())
	}
}

func monitorStopHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Monitor.Stop()
		writeJSON(w, http.StatusOK, deps.Monitor.Status())
	}
}

// settingsPayload is the control API's settings wire shape; the persisted
// struct itself only carries YAML tags.
type settingsPayload struct {
	MinSlots             int    `json:"min_slots"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	ClientVariant        string `json:"client_variant"`
	APIBaseURL           string `json:"api_base_url"`
	ControlListen        string `json:"control_listen"`
	BridgeDisabled       bool   `json:"bridge_disabled"`
	DataDir              string `json:"data_dir,omitempty"`
}

func toSettingsPayload(s config.Settings) settingsPayload {
	return settingsPayload{
		MinSlots:             s.MinSlots,
		CheckIntervalSeconds: s.CheckIntervalSeconds,
		ClientVariant:        s.ClientVariant,
		APIBaseURL:           s.API.BaseURL,
		ControlListen:        s.Control.Listen,
		BridgeDisabled:       s.Bridge.Disabled,
		DataDir:              s.DataDir,
	}
}

func settingsGetHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, toSettingsPayload(deps.Settings.Current()))
	}
}

type settingsPatch struct {
	MinSlots             *flexInt `json:"min_slots"`
	CheckIntervalSeconds *flexInt `json:"check_interval_seconds"`
	ClientVariant        *string  `json:"client_variant"`
	APIBaseURL           *string  `json:"api_base_url"`
}

func settingsPutHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch settingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if patch.APIBaseURL != nil && strings.TrimSpace(*patch.APIBaseURL) == "" {
			writeError(w, http.StatusBadRequest, "api_base_url must not be empty")
			return
		}

		updated, err := deps.Settings.Update(r.Context(), func(s *config.Settings) {
			if patch.MinSlots != nil {
				s.MinSlots = config.ClampMinSlots(patch.MinSlots.valueOr(config.DefaultMinSlots))
			}
			if patch.CheckIntervalSeconds != nil {
				s.CheckIntervalSeconds = config.ClampCheckInterval(patch.CheckIntervalSeconds.valueOr(config.DefaultCheckIntervalSeconds))
			}
			if patch.ClientVariant != nil {
				s.ClientVariant = steam.NormalizeVariant(*patch.ClientVariant)
			}
			if patch.APIBaseURL != nil {
				s.API.BaseURL = strings.TrimSpace(*patch.APIBaseURL)
			}
		})
		if err != nil {
			deps.Logger.Printf("control: settings update failed: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to persist settings")
			return
		}
		writeJSON(w, http.StatusOK, toSettingsPayload(updated))
	}
}

func joinURLHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		address := strings.TrimSpace(q.Get("address"))
		port := strings.TrimSpace(q.Get("port"))
		if address == "" || port == "" {
			writeError(w, http.StatusBadRequest, "address and port are required")
			return
		}
		gameID := 0
		if raw := q.Get("game_id"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				gameID = v
			}
		}

		variant := deps.Settings.Current().ClientVariant
		uri := steam.BuildJoinURL(variant, address, port, gameID, q.Get("game_name"))
		writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
	}
}

func loginHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SteamID64  string `json:"steamid64"`
			SecureCode string `json:"secure_code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		req.SteamID64 = strings.TrimSpace(req.SteamID64)
		req.SecureCode = strings.TrimSpace(req.SecureCode)
		if req.SteamID64 == "" || req.SecureCode == "" {
			writeError(w, http.StatusBadRequest, "steamid64 and secure_code are required")
			return
		}
		if !isDigits(req.SteamID64) {
			writeError(w, http.StatusBadRequest, "steamid64 must be numeric")
			return
		}

		if err := deps.Session.Login(r.Context(), req.SteamID64, req.SecureCode); err != nil {
			deps.Logger.Printf("control: login failed: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to store credentials")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func logoutHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Session.Logout(r.Context()); err != nil {
			deps.Logger.Printf("control: logout failed: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to clear credentials")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func exportFavoritesHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path    string               `json:"path"`
			Servers []types.ServerRecord `json:"servers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}

		payload, err := json.MarshalIndent(struct {
			ExportedAt time.Time            `json:"exported_at"`
			Servers    []types.ServerRecord `json:"servers"`
		}{ExportedAt: deps.Now().UTC(), Servers: req.Servers}, "", "  ")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "unable to encode export")
			return
		}

		if err := deps.Exporter.ExportJSON(req.Path, payload); err != nil {
			if errors.Is(err, bridge.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Path  string `json:"path"`
			Count int    `json:"count"`
		}{Path: req.Path, Count: len(req.Servers)})
	}
}

func eventsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultEventLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				limit = v
			}
		}
		var recent []types.Event
		if deps.Events != nil {
			recent = deps.Events.Recent(limit)
		}
		if recent == nil {
			recent = []types.Event{}
		}
		writeJSON(w, http.StatusOK, struct {
			Events []types.Event `json:"events"`
		}{Events: recent})
	}
}

func historyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeError(w, http.StatusServiceUnavailable, "history unavailable")
			return
		}
		q := r.URL.Query()
		address := strings.TrimSpace(q.Get("address"))
		port := strings.TrimSpace(q.Get("port"))
		if address != "" && port != "" {
			target := types.ServerTarget{Address: address, Port: port}
			samples := deps.History.Samples(target)
			if samples == nil {
				samples = []types.OccupancySample{}
			}
			writeJSON(w, http.StatusOK, struct {
				Target  types.ServerTarget      `json:"target"`
				Samples []types.OccupancySample `json:"samples"`
			}{Target: target, Samples: samples})
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Targets map[string][]types.OccupancySample `json:"targets"`
		}{Targets: deps.History.All()})
	}
}

func healthzHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
			return
		}
		writeJSON(w, http.StatusOK, deps.Health.Report(deps.Now()))
	}
}

func readyzHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := deps.Health.Ready(deps.Now())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// flexInt accepts either a JSON number or a quoted string, which is how the
// shell's free-form inputs arrive. A string that does not parse leaves the
// value unset so the caller's fixed default applies.
type flexInt struct {
	value int
	valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		f.value, f.valid = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		f.value, f.valid = v, true
	}
	return nil
}

func (f *flexInt) valueOr(def int) int {
	if f.valid {
		return f.value
	}
	return def
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
