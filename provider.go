package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/orbitalfiles/orbital/internal/graph"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

func newProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage storage providers (add, remove, list, login)",
	}

	cmd.AddCommand(newProviderAddCmd())
	cmd.AddCommand(newProviderRemoveCmd())
	cmd.AddCommand(newProviderListCmd())
	cmd.AddCommand(newProviderLoginCmd())
	cmd.AddCommand(newProviderWhoamiCmd())

	return cmd
}

// backendFlags maps each flag to its backend config key and the provider
// types that accept it.
var backendFlags = []struct {
	flag, key, usage string
	types            []providerid.Type
	boolean          bool
}{
	{flag: "root", key: "root", usage: "local: directory ids are relative to", types: []providerid.Type{providerid.TypeLocal}},
	{flag: "drive-id", key: "drive_id", usage: "onedrive: drive other than the default", types: []providerid.Type{providerid.TypeOneDrive}},
	{flag: "root-id", key: "root_id", usage: "gdrive: folder id to use as root", types: []providerid.Type{providerid.TypeGDrive}},
	{flag: "bucket", key: "bucket", usage: "s3: bucket name", types: []providerid.Type{providerid.TypeS3}},
	{flag: "region", key: "region", usage: "s3: bucket region", types: []providerid.Type{providerid.TypeS3}},
	{flag: "endpoint", key: "endpoint", usage: "s3: S3-compatible endpoint URL", types: []providerid.Type{providerid.TypeS3}},
	{flag: "access-key", key: "access_key", usage: "s3: static access key id", types: []providerid.Type{providerid.TypeS3}},
	{flag: "secret-key", key: "secret_key", usage: "s3: static secret key", types: []providerid.Type{providerid.TypeS3}},
	{flag: "path-style", key: "path_style", usage: "s3: use path-style addressing", types: []providerid.Type{providerid.TypeS3}, boolean: true},
}

func newProviderAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Add a provider",
		Long: `Add a provider of type local, onedrive, gdrive or s3. OneDrive and
Google Drive open a browser for authorization before the provider is saved.

The provider is named by --name, or a random UUID when omitted. Its
reference prefix is <name>.<type>, for example "docs.local".

Backend settings come from flags or, for anything else, --config-json.`,
		Args: cobra.ExactArgs(1),
		RunE: runProviderAdd,
	}

	cmd.Flags().String("name", "", "provider name (default: random UUID)")
	cmd.Flags().String("config-json", "", "backend configuration as a JSON object")

	for _, f := range backendFlags {
		if f.boolean {
			cmd.Flags().Bool(f.flag, false, f.usage)
		} else {
			cmd.Flags().String(f.flag, "", f.usage)
		}
	}

	return cmd
}

func newProviderRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name.type>",
		Short: "Remove a provider and its saved credentials",
		Long: `Remove a provider and delete its state file. Files stored by the
provider itself are never touched.`,
		Args: cobra.ExactArgs(1),
		RunE: runProviderRemove,
	}
}

func newProviderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers and their capabilities",
		Args:  cobra.NoArgs,
		RunE:  runProviderList,
	}
}

func newProviderLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <name.type>",
		Short: "Re-run authorization for a OneDrive or Google Drive provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runProviderLogin,
	}
}

func newProviderWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami <name.type>",
		Short: "Show the account a cloud provider is signed in as",
		Args:  cobra.ExactArgs(1),
		RunE:  runProviderWhoami,
	}
}

func runProviderAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	t, err := providerid.ParseType(args[0])
	if err != nil {
		return usageErrorf("%v", err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = uuid.NewString()
	}

	id, err := providerid.New(name, t)
	if err != nil {
		return usageErrorf("%v", err)
	}

	raw, err := providerConfig(cmd, t)
	if err != nil {
		return err
	}

	cc.Logger.Info("adding provider", slog.String("provider", id.String()))

	if err := cc.Registry.Add(cmd.Context(), id, raw); err != nil {
		return fmt.Errorf("adding %s: %w", id, err)
	}

	if cc.JSON {
		return printJSON(cc.Out, providerJSON{ID: id.String(), Name: id.Name, Type: id.Type})
	}

	fmt.Fprintln(cc.Out, id)

	return nil
}

// providerConfig merges --config-json with the backend flags the user set.
// Flags win over keys in the JSON object.
func providerConfig(cmd *cobra.Command, t providerid.Type) (json.RawMessage, error) {
	values := make(map[string]any)

	if rawJSON, _ := cmd.Flags().GetString("config-json"); rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &values); err != nil {
			return nil, usageErrorf("--config-json: %v", err)
		}
	}

	for _, f := range backendFlags {
		if !cmd.Flags().Changed(f.flag) {
			continue
		}

		if !slices.Contains(f.types, t) {
			return nil, usageErrorf("--%s does not apply to %s providers", f.flag, t)
		}

		if f.boolean {
			v, _ := cmd.Flags().GetBool(f.flag)
			values[f.key] = v
		} else {
			v, _ := cmd.Flags().GetString(f.flag)
			values[f.key] = v
		}
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding provider config: %w", err)
	}

	return raw, nil
}

// parseProviderArg parses a "name.type" argument.
func parseProviderArg(s string) (providerid.ID, error) {
	id, err := providerid.Parse(strings.TrimSuffix(s, ":"))
	if err != nil {
		return providerid.ID{}, usageErrorf("%v", err)
	}

	return id, nil
}

func runProviderRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	id, err := parseProviderArg(args[0])
	if err != nil {
		return err
	}

	if err := cc.Registry.Remove(cmd.Context(), id); err != nil {
		return err
	}

	cc.Statusf("Removed %s\n", id)

	return nil
}

// providerJSON is the `provider list --json` schema.
type providerJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         providerid.Type `json:"type"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func runProviderList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ids := cc.Registry.List()
	out := make([]providerJSON, 0, len(ids))

	for _, id := range ids {
		p, err := cc.Registry.Get(id)
		if err != nil {
			return err
		}

		out = append(out, providerJSON{
			ID:           id.String(),
			Name:         id.Name,
			Type:         id.Type,
			Capabilities: vfs.Describe(p),
		})
	}

	// Providers whose state failed to load are listed so they can be removed.
	broken := cc.Registry.Broken()
	brokenIDs := make([]providerid.ID, 0, len(broken))
	for id := range broken {
		brokenIDs = append(brokenIDs, id)
	}

	slices.SortFunc(brokenIDs, func(a, b providerid.ID) int { return strings.Compare(a.String(), b.String()) })

	for _, id := range brokenIDs {
		out = append(out, providerJSON{
			ID:    id.String(),
			Name:  id.Name,
			Type:  id.Type,
			Error: broken[id].Error(),
		})
	}

	if cc.JSON {
		return printJSON(cc.Out, out)
	}

	if len(out) == 0 {
		cc.Statusf("No providers. Add one with 'orbital provider add <type>'.\n")
		return nil
	}

	rows := make([][]string, 0, len(out))
	for _, p := range out {
		caps := strings.Join(p.Capabilities, ",")
		if p.Error != "" {
			caps = "failed to load: " + p.Error
		}

		rows = append(rows, []string{p.ID, string(p.Type), caps})
	}

	printTable(cc.Out, []string{"PROVIDER", "TYPE", "CAPABILITIES"}, rows)

	return nil
}

func runProviderLogin(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	id, err := parseProviderArg(args[0])
	if err != nil {
		return err
	}

	if err := cc.Registry.Authorize(cmd.Context(), id); err != nil {
		return fmt.Errorf("authorizing %s: %w", id, err)
	}

	cc.Statusf("Authorized %s\n", id)

	return nil
}

// accountJSON is the `provider whoami --json` schema.
type accountJSON struct {
	Provider    string `json:"provider"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email"`
}

func runProviderWhoami(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	id, err := parseProviderArg(args[0])
	if err != nil {
		return err
	}

	p, err := cc.Registry.Get(id)
	if err != nil {
		return err
	}

	acct, err := account(cmd.Context(), p)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}

	acct.Provider = id.String()

	if cc.JSON {
		return printJSON(cc.Out, acct)
	}

	if acct.DisplayName != "" {
		fmt.Fprintf(cc.Out, "%s: %s (%s)\n", acct.Provider, acct.DisplayName, acct.Email)
	} else {
		fmt.Fprintf(cc.Out, "%s: %s\n", acct.Provider, acct.Email)
	}

	return nil
}

// account asks a cloud drive who it is signed in as.
func account(ctx context.Context, p vfs.Provider) (accountJSON, error) {
	switch a := p.(type) {
	case interface {
		Account(context.Context) (*graph.User, error)
	}:
		u, err := a.Account(ctx)
		if err != nil {
			return accountJSON{}, err
		}

		return accountJSON{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email}, nil

	case interface {
		Account(context.Context) (string, error)
	}:
		email, err := a.Account(ctx)
		if err != nil {
			return accountJSON{}, err
		}

		return accountJSON{Email: email}, nil
	}

	return accountJSON{}, vfs.Wrap(vfs.ErrUnsupported, "Account", "", nil)
}
