package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StagePrefix is the stage root for dashboard artifact trees.
const StagePrefix = "@DASH_APPS"

// Artifact kinds.
const (
	ArtifactBaseView = "base_view"
	ArtifactTopView  = "top_view"
	ArtifactRefresh  = "refresh_view"
)

// Artifact is one engine object created for a panel.
type Artifact struct {
	PanelID    string `json:"panel_id"`
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
	Template   string `json:"template"`
}

// Manifest is the self-contained description of one published version. It
// lives at the version's stage path and doubles as the app registration
// payload.
type Manifest struct {
	Name            string     `json:"name"`
	Hash            string     `json:"hash"`
	Spec            *Spec      `json:"spec"`
	ContractVersion string     `json:"contract_version"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	Artifacts       []Artifact `json:"artifacts"`
}

// Encode renders the manifest as stable JSON.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a stored manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// versionPath is the stage directory for one published version.
func versionPath(name, hash string) string {
	return fmt.Sprintf("%s/%s/%s/", StagePrefix, name, hash)
}

func manifestPath(name, hash string) string {
	return versionPath(name, hash) + "manifest.json"
}

func entryPath(name, hash string) string {
	return versionPath(name, hash) + "app.entry"
}

func panelPath(name, hash, panelID string) string {
	return fmt.Sprintf("%spanels/%s.json", versionPath(name, hash), panelID)
}

// artifactStem builds the identifier prefix for a panel's engine objects.
// Dashboard names are slugs; dashes flatten to underscores for SQL
// identifiers.
func artifactStem(name, hash, panelID string) string {
	flat := strings.NewReplacer("-", "_").Replace(name)
	return fmt.Sprintf("ACTIVITY.DASH_%s_%s_%s",
		strings.ToUpper(flat), strings.ToUpper(hash[:8]), strings.ToUpper(panelID))
}

// renderEntry produces the app.entry file: the minimal document a viewer
// needs to lay the dashboard out and find its data.
func renderEntry(m *Manifest) ([]byte, error) {
	type entryPanel struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		View   string `json:"view"`
		Source string `json:"source"`
	}
	entry := struct {
		Name      string       `json:"name"`
		Hash      string       `json:"hash"`
		Timezone  string       `json:"timezone"`
		Schedule  Schedule     `json:"schedule"`
		Panels    []entryPanel `json:"panels"`
		CreatedAt time.Time    `json:"created_at"`
	}{
		Name:      m.Name,
		Hash:      m.Hash,
		Timezone:  m.Spec.Timezone,
		Schedule:  m.Spec.Schedule,
		CreatedAt: m.CreatedAt,
	}
	views := map[string]string{}
	for _, a := range m.Artifacts {
		// The top view supersedes the base view for display.
		if a.Kind == ArtifactBaseView && views[a.PanelID] == "" || a.Kind == ArtifactTopView {
			views[a.PanelID] = a.Identifier
		}
	}
	for _, p := range m.Spec.Panels {
		entry.Panels = append(entry.Panels, entryPanel{
			ID: p.ID, Type: p.Type, View: views[p.ID], Source: p.Source,
		})
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render app entry: %w", err)
	}
	return data, nil
}
