package msgcat

import (
    "embed"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    "github.com/park285/chess-relay/internal/obslog"
    "go.uber.org/zap"
    yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Keys used by the coordinator. Kept here so a missing override is caught by tests.
const (
    RoomNotFound        = "room.not_found"
    RoomNotJoined       = "room.not_joined"
    RoomNameRequired    = "room.name_required"
    MoveNotStarted      = "move.not_started"
    MoveNotYourTurn     = "move.not_your_turn"
    MoveFailed          = "move.failed"
    GameCheckmate       = "game.checkmate"
    GameDraw            = "game.draw"
    QueueWaiting        = "queue.waiting"
    QueueMatchFound     = "queue.match_found"
    QueuePartnerGone    = "queue.partner_disconnected"
    IdentityConflict    = "identity.conflict"
    IdentityRequired    = "identity.required"
    PayloadInvalid      = "payload.invalid"
    PayloadUnknownEvent = "payload.unknown_event"
)

// Catalog holds client-facing texts: embedded English defaults plus optional YAML overrides.
// Values are text/template sources; missing keys at render time are errors.
type Catalog struct {
    mu        sync.RWMutex
    templates map[string]*template.Template
}

// New loads the embedded defaults, then every *.yaml/*.yml file in overrideDir (sorted by name).
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{templates: make(map[string]*template.Template)}
    raw, err := fs.ReadFile(defaultFiles, "messages.en.yaml")
    if err != nil {
        return nil, fmt.Errorf("read embedded messages: %w", err)
    }
    flat, err := parseYAMLToFlat(raw)
    if err != nil {
        return nil, fmt.Errorf("parse embedded messages: %w", err)
    }
    if err := c.apply(flat); err != nil {
        return nil, err
    }
    if strings.TrimSpace(overrideDir) != "" {
        if err := c.applyDir(overrideDir); err != nil {
            return nil, err
        }
    }
    return c, nil
}

// Default returns the embedded catalog; it panics only if the embedded file is broken.
func Default() *Catalog {
    c, err := New("")
    if err != nil {
        panic(err)
    }
    return c
}

func (c *Catalog) applyDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return fmt.Errorf("read message dir: %w", err)
    }
    files := make([]string, 0, len(entries))
    for _, e := range entries {
        if e.IsDir() { continue }
        ext := strings.ToLower(filepath.Ext(e.Name()))
        if ext == ".yaml" || ext == ".yml" { files = append(files, e.Name()) }
    }
    sort.Strings(files)
    seen := make(map[string]string) // key -> filename
    for _, name := range files {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return fmt.Errorf("read %s: %w", name, err) }
        flat, err := parseYAMLToFlat(b)
        if err != nil { return fmt.Errorf("parse %s: %w", name, err) }
        for k := range flat {
            if prev, ok := seen[k]; ok {
                return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
            }
            seen[k] = name
        }
        if err := c.apply(flat); err != nil { return fmt.Errorf("%s: %w", name, err) }
    }
    return nil
}

func (c *Catalog) apply(flat map[string]string) error {
    parsed := make(map[string]*template.Template, len(flat))
    for k, v := range flat {
        t, err := template.New(k).Option("missingkey=error").Parse(v)
        if err != nil {
            return fmt.Errorf("template %s: %w", k, err)
        }
        parsed[k] = t
    }
    c.mu.Lock()
    for k, t := range parsed {
        c.templates[k] = t
    }
    c.mu.Unlock()
    return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
    var m map[string]any
    if err := yaml.Unmarshal(b, &m); err != nil {
        return nil, err
    }
    flat := make(map[string]string)
    if err := flattenStrings(m, "", flat); err != nil {
        return nil, err
    }
    return flat, nil
}

func flattenStrings(src any, prefix string, out map[string]string) error {
    switch v := src.(type) {
    case map[string]any:
        for k, vv := range v {
            key := k
            if prefix != "" { key = prefix + "." + k }
            if err := flattenStrings(vv, key, out); err != nil { return err }
        }
        return nil
    case string:
        if prefix == "" { return errors.New("string value without key prefix") }
        out[prefix] = v
        return nil
    case nil:
        return nil
    default:
        return fmt.Errorf("unsupported value at %s: %T", prefix, v)
    }
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
    c.mu.RLock()
    t, ok := c.templates[strings.TrimSpace(key)]
    c.mu.RUnlock()
    if !ok {
        return "", fmt.Errorf("template not found: %s", key)
    }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}

// Text renders key and falls back to the key itself when rendering fails.
func (c *Catalog) Text(key string, data any) string {
    s, err := c.Render(key, data)
    if err != nil {
        obslog.L().Warn("msgcat_render_error", zap.String("key", key), zap.Error(err))
        return key
    }
    return s
}
