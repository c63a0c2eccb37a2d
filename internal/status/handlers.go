package status

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/glennswest/ipmi-bmc-emulator/internal/bmc"
)

// BMCInfo summarizes one virtual BMC for the /api/bmcs listing.
type BMCInfo struct {
	Name       string `json:"name"`
	IPMBAddr   byte   `json:"ipmbAddr"`
	BootDevice string `json:"bootDevice"`
	PoweredOn  bool   `json:"poweredOn"`
	LastError  string `json:"lastError,omitempty"`
}

func (s *Server) handleListBMCs(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	result := make([]BMCInfo, 0, len(list))
	for _, b := range list {
		result = append(result, bmcInfo(b))
	}
	writeJSON(w, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	b, ok := s.registry.ByName(name)
	if !ok {
		http.Error(w, "bmc not found", http.StatusNotFound)
		return
	}
	writeJSON(w, bmcInfo(b))
}

func bmcInfo(b *bmc.VirtualBMC) BMCInfo {
	info := BMCInfo{Name: b.Name, IPMBAddr: b.IPMBAddr, BootDevice: b.BootDevice}
	on, err := b.Policy.PowerState()
	if err != nil {
		info.LastError = err.Error()
	} else {
		info.PoweredOn = on
	}
	return info
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	b, ok := s.registry.ByName(name)
	if !ok {
		http.Error(w, "bmc not found", http.StatusNotFound)
		return
	}
	current, history, total := b.Analytics.Snapshot()
	writeJSON(w, map[string]interface{}{
		"currentBoot":  current,
		"history":      history,
		"totalReboots": total,
	})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	list, err := s.logWriter.ListLogs(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path := s.logWriter.GetLogPath(vars["name"], vars["filename"])
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "log not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
