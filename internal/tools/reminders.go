package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// RemindersTool manages the calling user's reminders. It is bound to one
// user at construction and never accepts a user id from the model.
type RemindersTool struct {
	userID    string
	reminders store.ReminderStore
}

func NewRemindersTool(userID string, reminders store.ReminderStore) *RemindersTool {
	return &RemindersTool{userID: userID, reminders: reminders}
}

func (t *RemindersTool) Name() string { return "manage_reminders" }

func (t *RemindersTool) Description() string {
	return "Manage the user's reminders: add, list, complete, remove, or set a due time."
}

func (t *RemindersTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"add", "list", "complete", "remove", "set_due"},
				"description": "What to do.",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Reminder text (add).",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Reminder id (complete, remove, set_due).",
			},
			"due_at": map[string]any{
				"type":        "string",
				"description": "Due time as ISO-8601, e.g. 2026-03-01T09:00:00Z (add, set_due).",
			},
			"include_complete": map[string]any{
				"type":        "boolean",
				"description": "Also list completed reminders (list).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *RemindersTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list(ctx, args)
	case "complete":
		return t.mutate(ctx, args, t.reminders.Complete, "completed")
	case "remove":
		return t.mutate(ctx, args, t.reminders.Delete, "removed")
	case "set_due":
		return t.setDue(ctx, args)
	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (t *RemindersTool) add(ctx context.Context, args map[string]any) (*Result, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("text is required for add"), nil
	}
	r := &store.Reminder{
		ID:        store.NewID(),
		UserID:    t.userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if raw, ok := args["due_at"].(string); ok && raw != "" {
		due, err := parseDue(raw)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		r.DueAt = &due
	}
	if err := t.reminders.Create(ctx, r); err != nil {
		return nil, err
	}
	return JSONResult(reminderView(r)), nil
}

func (t *RemindersTool) list(ctx context.Context, args map[string]any) (*Result, error) {
	includeComplete, _ := args["include_complete"].(bool)
	rs, err := t.reminders.List(ctx, t.userID, includeComplete)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(rs))
	for _, r := range rs {
		views = append(views, reminderView(r))
	}
	return JSONResult(map[string]any{"reminders": views, "count": len(views)}), nil
}

func (t *RemindersTool) mutate(ctx context.Context, args map[string]any, op func(context.Context, string, string) error, verb string) (*Result, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required"), nil
	}
	if err := op(ctx, t.userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("reminder %s not found", id)), nil
		}
		return nil, err
	}
	return JSONResult(map[string]any{"id": id, "status": verb}), nil
}

func (t *RemindersTool) setDue(ctx context.Context, args map[string]any) (*Result, error) {
	id, _ := args["id"].(string)
	raw, _ := args["due_at"].(string)
	if id == "" || raw == "" {
		return ErrorResult("id and due_at are required for set_due"), nil
	}
	due, err := parseDue(raw)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if err := t.reminders.SetDue(ctx, t.userID, id, due); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("reminder %s not found", id)), nil
		}
		return nil, err
	}
	return JSONResult(map[string]any{"id": id, "dueAt": due.UTC().Format(time.RFC3339)}), nil
}

func parseDue(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("due_at %q is not a valid ISO-8601 timestamp", raw)
}

func reminderView(r *store.Reminder) map[string]any {
	v := map[string]any{
		"id":       r.ID,
		"text":     r.Text,
		"complete": r.IsComplete,
	}
	if r.DueAt != nil {
		v["dueAt"] = r.DueAt.UTC().Format(time.RFC3339)
	}
	return v
}
