package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cartsync/internal/model"
)

// Themes persists the colour scheme preference under KeyTheme.
type Themes struct {
	store Store
}

// NewThemes wraps store.
func NewThemes(store Store) *Themes {
	return &Themes{store: store}
}

// Load returns the saved theme, or ThemeSystem when none is saved or the
// saved value is unreadable.
func (t *Themes) Load(ctx context.Context) (model.Theme, error) {
	data, err := t.store.Get(ctx, KeyTheme)
	if errors.Is(err, ErrMiss) {
		return model.ThemeSystem, nil
	}
	if err != nil {
		return model.ThemeSystem, model.NewStorageError("read", err)
	}

	var theme model.Theme
	if err := json.Unmarshal(data, &theme); err != nil || !theme.Valid() {
		_ = t.store.Delete(ctx, KeyTheme)
		return model.ThemeSystem, nil
	}
	return theme, nil
}

// Save stores theme after validating it.
func (t *Themes) Save(ctx context.Context, theme model.Theme) error {
	if !theme.Valid() {
		return model.NewValidationError("theme", fmt.Sprintf("unknown theme %q", theme))
	}
	data, err := json.Marshal(theme)
	if err != nil {
		return fmt.Errorf("encoding theme: %w", err)
	}
	if err := t.store.Set(ctx, KeyTheme, data); err != nil {
		return model.NewStorageError("write", err)
	}
	return nil
}
