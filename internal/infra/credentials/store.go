// Package credentials keeps provider API keys in Postgres for deployments that do not
// ship them as environment variables.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"genpipe/internal/infra"
	"genpipe/internal/sqlinline"
)

// Keys lists the credentials the store manages. Each matches the environment variable it backs.
var Keys = []string{
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"DASHSCOPE_API_KEY",
	"ELEVENLABS_API_KEY",
	"ASSEMBLYAI_API_KEY",
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Known reports whether key is one of Keys.
func Known(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Token returns the stored value of key, or "" when none is stored.
func (s *Store) Token(ctx context.Context, key string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderCredential, key)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s: %w", key, err)
	}
	return strings.TrimSpace(token), nil
}

// Set stores token under key.
func (s *Store) Set(ctx context.Context, key, token string, props map[string]any) error {
	if !Known(key) {
		return fmt.Errorf("credentials: unknown key %q", key)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("credentials: %s is empty", key)
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderCredential, key, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s: %w", key, err)
	}
	return nil
}

// Fill copies stored tokens into the credential fields of cfg that the environment left
// empty. It returns the keys it filled.
func (s *Store) Fill(ctx context.Context, cfg *infra.Config) ([]string, error) {
	var filled []string
	for _, key := range Keys {
		field := configField(cfg, key)
		if field == nil || *field != "" {
			continue
		}
		token, err := s.Token(ctx, key)
		if err != nil {
			return filled, err
		}
		if token != "" {
			*field = token
			filled = append(filled, key)
		}
	}
	return filled, nil
}

func configField(cfg *infra.Config, key string) *string {
	switch key {
	case "OPENAI_API_KEY":
		return &cfg.OpenAIAPIKey
	case "GEMINI_API_KEY":
		return &cfg.GeminiAPIKey
	case "DASHSCOPE_API_KEY":
		return &cfg.DashScopeAPIKey
	case "ELEVENLABS_API_KEY":
		return &cfg.ElevenLabsAPIKey
	case "ASSEMBLYAI_API_KEY":
		return &cfg.AssemblyAIAPIKey
	default:
		return nil
	}
}
