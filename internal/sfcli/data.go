package sfcli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DisplayOrg resolves the target org (or the default org when alias is empty).
func (c *Client) DisplayOrg(ctx context.Context, alias string) (*OrgInfo, error) {
	out, err := c.run(ctx, withTargetOrg([]string{"org", "display"}, alias)...)
	if err != nil {
		return nil, fmt.Errorf("display org: %w", err)
	}

	var info OrgInfo
	if err := decodeJSON(out, &info); err != nil {
		return nil, fmt.Errorf("parse org display output JSON: %w", err)
	}
	if strings.TrimSpace(info.Username) == "" {
		return nil, errors.New("org display output missing username")
	}
	return &info, nil
}

// Query runs a SOQL query and decodes the returned records into records,
// which must be a pointer to a slice.
func (c *Client) Query(ctx context.Context, opts QueryOpts, records any) error {
	if strings.TrimSpace(opts.Query) == "" {
		return errors.New("query must not be empty")
	}

	args := []string{"data", "query", "--query", opts.Query}
	if opts.Tooling {
		args = append(args, "--use-tooling-api")
	}

	out, err := c.run(ctx, withTargetOrg(args, opts.TargetOrg)...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}

	var wrapped struct {
		Records any `json:"records"`
	}
	wrapped.Records = records
	if err := decodeJSON(out, &wrapped); err != nil {
		return fmt.Errorf("parse query output JSON: %w", err)
	}
	return nil
}

// CreateRecord inserts one record and returns its id.
func (c *Client) CreateRecord(ctx context.Context, opts RecordOpts) (string, error) {
	if strings.TrimSpace(opts.SObject) == "" {
		return "", errors.New("sobject must not be empty")
	}
	if len(opts.Values) == 0 {
		return "", errors.New("record values must not be empty")
	}

	args := []string{
		"data", "create", "record",
		"--sobject", opts.SObject,
		"--values", FormatValues(opts.Values),
	}
	if opts.Tooling {
		args = append(args, "--use-tooling-api")
	}

	out, err := c.run(ctx, withTargetOrg(args, opts.TargetOrg)...)
	if err != nil {
		return "", fmt.Errorf("create %s record: %w", opts.SObject, err)
	}

	var saved SaveResult
	if err := decodeJSON(out, &saved); err != nil {
		return "", fmt.Errorf("parse create output JSON: %w", err)
	}
	if strings.TrimSpace(saved.ID) == "" {
		return "", fmt.Errorf("create %s output missing id", opts.SObject)
	}
	return saved.ID, nil
}

// UpdateRecord updates one record by id.
func (c *Client) UpdateRecord(ctx context.Context, opts RecordOpts) error {
	if strings.TrimSpace(opts.SObject) == "" {
		return errors.New("sobject must not be empty")
	}
	if strings.TrimSpace(opts.RecordID) == "" {
		return errors.New("record id must not be empty")
	}
	if len(opts.Values) == 0 {
		return errors.New("record values must not be empty")
	}

	args := []string{
		"data", "update", "record",
		"--sobject", opts.SObject,
		"--record-id", opts.RecordID,
		"--values", FormatValues(opts.Values),
	}
	if opts.Tooling {
		args = append(args, "--use-tooling-api")
	}

	if _, err := c.run(ctx, withTargetOrg(args, opts.TargetOrg)...); err != nil {
		return fmt.Errorf("update %s record %q: %w", opts.SObject, opts.RecordID, err)
	}
	return nil
}

// FormatValues renders field values in the `Field=Value` form accepted by
// --values. Keys are sorted; values containing spaces are single-quoted.
func FormatValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := values[key]
		if strings.ContainsAny(value, " \t") {
			value = "'" + strings.ReplaceAll(value, "'", `\'`) + "'"
		}
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, " ")
}
