package dag

import (
	"encoding/json"
	"fmt"
	"time"
)

// taskWire is the canonical on-wire shape of a Task, per spec.md §6.1.
type taskWire struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	DeviceType   string                 `json:"device_type,omitempty"`
	AssignedTo   string                 `json:"assigned_to,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Priority     interface{}            `json:"priority"`
	MaxRetries   int                    `json:"max_retries"`
	TimeoutSecs  float64                `json:"timeout_seconds,omitempty"`
	Command      string                 `json:"command,omitempty"`
	Args         map[string]interface{} `json:"args,omitempty"`
	Status       string                 `json:"status"`
	RetryCount   int                    `json:"retry_count"`
	Result       interface{}            `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Dependents   []string               `json:"dependents,omitempty"`
	CreatedAt    string                 `json:"created_at,omitempty"`
	StartedAt    *string                `json:"started_at,omitempty"`
	CompletedAt  *string                `json:"completed_at,omitempty"`
}

func timeToWire(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrToWire(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timeToWire(*t)
	return &s
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (t *Task) toWire() taskWire {
	return taskWire{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		Tags:         t.Tags,
		DeviceType:   string(t.DeviceType),
		AssignedTo:   t.AssignedTo,
		Capabilities: t.Capabilities,
		Priority:     t.Priority.String(),
		MaxRetries:   t.MaxRetries,
		TimeoutSecs:  t.Timeout.Seconds(),
		Command:      t.Command,
		Args:         t.Args,
		Status:       string(t.Status),
		RetryCount:   t.RetryCount,
		Result:       t.Result,
		ErrorMessage: t.ErrorMessage,
		Dependencies: t.Dependencies,
		Dependents:   t.Dependents,
		CreatedAt:    timeToWire(t.CreatedAt),
		StartedAt:    timePtrToWire(t.StartedAt),
		CompletedAt:  timePtrToWire(t.CompletedAt),
	}
}

func taskFromWire(w taskWire) (*Task, error) {
	status, ok := ParseTaskStatus(w.Status)
	if !ok {
		return nil, fmt.Errorf("task %s: unknown status %q", w.ID, w.Status)
	}
	prio, ok := ParsePriority(w.Priority)
	if !ok {
		prio = PriorityMedium
	}
	var devType DeviceType
	if w.DeviceType != "" {
		devType, _ = ParseDeviceType(w.DeviceType)
	}
	created, err := parseWireTime(w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("task %s: created_at: %w", w.ID, err)
	}
	var started, completed *time.Time
	if w.StartedAt != nil {
		ts, err := parseWireTime(*w.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("task %s: started_at: %w", w.ID, err)
		}
		started = &ts
	}
	if w.CompletedAt != nil {
		ts, err := parseWireTime(*w.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("task %s: completed_at: %w", w.ID, err)
		}
		completed = &ts
	}
	return &Task{
		ID:           w.ID,
		Name:         w.Name,
		Description:  w.Description,
		Tags:         w.Tags,
		DeviceType:   devType,
		AssignedTo:   w.AssignedTo,
		Capabilities: w.Capabilities,
		Priority:     prio,
		MaxRetries:   w.MaxRetries,
		Timeout:      time.Duration(w.TimeoutSecs * float64(time.Second)),
		Command:      w.Command,
		Args:         w.Args,
		Status:       status,
		RetryCount:   w.RetryCount,
		Result:       w.Result,
		ErrorMessage: w.ErrorMessage,
		Dependencies: w.Dependencies,
		Dependents:   w.Dependents,
		CreatedAt:    created,
		StartedAt:    started,
		CompletedAt:  completed,
	}, nil
}

type edgeWire struct {
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Kind          string `json:"kind"`
	PredicateName string `json:"predicate_name,omitempty"`
}

// constellationWire is the canonical on-wire shape. Tasks/Dependencies
// accept either an array or an ID-keyed map on decode (spec.md §6.1's dual
// array/map forms); encode always emits the array form.
type constellationWire struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CreatedAt    string     `json:"created_at,omitempty"`
	Tasks        []taskWire `json:"tasks"`
	Dependencies []edgeWire `json:"dependencies"`
}

// ToJSON serializes the constellation to its canonical wire form.
func (c *Constellation) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w := constellationWire{
		ID:        c.ID,
		Name:      c.Name,
		CreatedAt: timeToWire(c.CreatedAt),
	}
	for _, id := range c.insertOrder {
		w.Tasks = append(w.Tasks, c.tasks[id].toWire())
	}
	edges := c.Edges()
	for _, e := range edges {
		w.Dependencies = append(w.Dependencies, edgeWire{
			ID: e.ID, From: e.From, To: e.To, Kind: string(e.Kind), PredicateName: e.PredicateName,
		})
	}
	return json.MarshalIndent(w, "", "  ")
}

// FromJSON parses a constellation, accepting either array or map forms for
// tasks and dependencies, and rebuilding the denormalized Dependencies /
// Dependents fields from the edge list rather than trusting the wire copies.
func FromJSON(data []byte, ids *IDManager) (*Constellation, error) {
	var raw struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		CreatedAt    string          `json:"created_at"`
		Tasks        json.RawMessage `json:"tasks"`
		Dependencies json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode constellation: %w", err)
	}

	taskWires, err := decodeTasksEither(raw.Tasks)
	if err != nil {
		return nil, err
	}
	edgeWires, err := decodeEdgesEither(raw.Dependencies)
	if err != nil {
		return nil, err
	}

	if ids == nil {
		ids = Default()
	}
	created, err := parseWireTime(raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("constellation created_at: %w", err)
	}
	c := &Constellation{
		ID:         raw.ID,
		Name:       raw.Name,
		CreatedAt:  created,
		tasks:      make(map[string]*Task),
		edges:      make(map[string]*Edge),
		outgoing:   make(map[string][]string),
		incoming:   make(map[string][]string),
		Predicates: NewPredicateRegistry(),
		ids:        ids,
	}

	for _, tw := range taskWires {
		t, err := taskFromWire(tw)
		if err != nil {
			return nil, err
		}
		t.Dependencies = nil
		t.Dependents = nil
		c.tasks[t.ID] = t
		c.insertOrder = append(c.insertOrder, t.ID)
	}

	for _, ew := range edgeWires {
		kind, ok := ParseEdgeKind(ew.Kind)
		if !ok {
			return nil, fmt.Errorf("edge %s: unknown kind %q", ew.ID, ew.Kind)
		}
		if _, ok := c.tasks[ew.From]; !ok {
			return nil, fmt.Errorf("edge %s: unknown source task %s", ew.ID, ew.From)
		}
		if _, ok := c.tasks[ew.To]; !ok {
			return nil, fmt.Errorf("edge %s: unknown target task %s", ew.ID, ew.To)
		}
		e := &Edge{ID: ew.ID, From: ew.From, To: ew.To, Kind: kind, PredicateName: ew.PredicateName}
		c.edges[e.ID] = e
		c.outgoing[e.From] = append(c.outgoing[e.From], e.ID)
		c.incoming[e.To] = append(c.incoming[e.To], e.ID)
		c.tasks[e.To].Dependencies = append(c.tasks[e.To].Dependencies, e.From)
		c.tasks[e.From].Dependents = append(c.tasks[e.From].Dependents, e.To)
	}

	return c, nil
}

func decodeTasksEither(raw json.RawMessage) ([]taskWire, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asArray []taskWire
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return asArray, nil
	}
	var asMap map[string]taskWire
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	out := make([]taskWire, 0, len(asMap))
	for id, tw := range asMap {
		if tw.ID == "" {
			tw.ID = id
		}
		out = append(out, tw)
	}
	return out, nil
}

func decodeEdgesEither(raw json.RawMessage) ([]edgeWire, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asArray []edgeWire
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return asArray, nil
	}
	var asMap map[string]edgeWire
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	out := make([]edgeWire, 0, len(asMap))
	for id, ew := range asMap {
		if ew.ID == "" {
			ew.ID = id
		}
		out = append(out, ew)
	}
	return out, nil
}
