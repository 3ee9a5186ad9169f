// Package org resolves the target org into a connection for the other stages.
package org

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/replay-tools/rdt/internal/sfcli"
)

// Connection is a borrowed handle to an authenticated org session. The
// runner never logs in or out; sf owns the session.
type Connection struct {
	Alias       string
	Username    string
	OrgID       string
	UserID      string
	InstanceURL string
}

// TargetOrg returns the value passed to sf --target-org for this connection.
func (c Connection) TargetOrg() string {
	if strings.TrimSpace(c.Alias) != "" {
		return c.Alias
	}
	return c.Username
}

// Client is the subset of the sf client used to resolve a connection.
type Client interface {
	DisplayOrg(ctx context.Context, alias string) (*sfcli.OrgInfo, error)
	Query(ctx context.Context, opts sfcli.QueryOpts, records any) error
}

// Provider resolves a configured org alias into a Connection.
type Provider struct {
	client Client
	alias  string
}

// NewProvider builds a connection provider for alias. An empty alias
// selects the sf default org.
func NewProvider(client Client, alias string) (*Provider, error) {
	if client == nil {
		return nil, errors.New("sf client is required")
	}
	return &Provider{
		client: client,
		alias:  strings.TrimSpace(alias),
	}, nil
}

// Connection resolves the org and the id of the authenticated user.
func (p *Provider) Connection(ctx context.Context) (Connection, error) {
	if p == nil {
		return Connection{}, errors.New("connection provider is nil")
	}

	info, err := p.client.DisplayOrg(ctx, p.alias)
	if err != nil {
		return Connection{}, fmt.Errorf("resolve org %q: %w", p.alias, err)
	}

	conn := Connection{
		Alias:       firstNonBlank(p.alias, info.Alias),
		Username:    info.Username,
		OrgID:       info.ID,
		InstanceURL: info.InstanceURL,
	}

	var users []struct {
		ID string `json:"Id"`
	}
	err = p.client.Query(ctx, sfcli.QueryOpts{
		TargetOrg: conn.TargetOrg(),
		Query:     fmt.Sprintf("SELECT Id FROM User WHERE Username = '%s'", escapeSOQL(info.Username)),
	}, &users)
	if err != nil {
		return Connection{}, fmt.Errorf("resolve user id for %q: %w", info.Username, err)
	}
	if len(users) == 0 || strings.TrimSpace(users[0].ID) == "" {
		return Connection{}, fmt.Errorf("user %q not found in org", info.Username)
	}
	conn.UserID = users[0].ID

	return conn, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func escapeSOQL(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return replacer.Replace(value)
}
