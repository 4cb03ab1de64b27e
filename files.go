package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <ref>",
		Short: "List a directory",
		Long: `List the entries of a directory. References have the form
<name>.<type>:<path>, for example docs.local:/reports/ or work.onedrive:
for the root of a OneDrive provider.`,
		Args: cobra.ExactArgs(1),
		RunE: runLs,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <ref>",
		Short: "Write a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file|-> <ref>",
		Short: "Replace a file's content with a local file or stdin",
		Long: `Upload the content of a local file, or stdin when the first argument is "-",
as the full content of the referenced file. Large files are sent in chunks
on backends that support resumable uploads.`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <ref>",
		Short: "Delete a file or directory permanently",
		Long: `Delete a file or a directory. Mark directories with a trailing slash.
Some backends, local disk among them, only delete empty directories. Use
"trash" for a recoverable delete.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}
}

func newTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <ref>",
		Short: "Move a file or directory to the provider's trash",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrash,
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <ref> <dest-dir-ref>",
		Short: "Move a file or directory into another directory of the same provider",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <ref> <new-name>",
		Short: "Rename a file or directory in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent-ref> <name>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args, true)
		},
	}
}

func newTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <parent-ref> <name>",
		Short: "Create an empty file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args, false)
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <ref>",
		Short: "Display file or directory metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newLnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ln <parent-ref> <name> <target-path>",
		Short: "Create a symbolic link",
		Long: `Create a symbolic link named <name> inside <parent-ref> pointing at
<target-path> on the same provider. Only backends with native links
support this.`,
		Args: cobra.ExactArgs(3),
		RunE: runLn,
	}
}

func newReadlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readlink <ref>",
		Short: "Print the target of a symbolic link",
		Args:  cobra.ExactArgs(1),
		RunE:  runReadlink,
	}
}

// fileSystem resolves the reference's provider and its filesystem
// capability.
func fileSystem(cc *CLIContext, ref objectRef) (vfs.FileSystem, error) {
	p, err := cc.Registry.Get(ref.Provider)
	if err != nil {
		return nil, err
	}

	fs := p.FileSystem()
	if fs == nil {
		return nil, vfs.Wrap(vfs.ErrUnsupported, "FileSystem", ref.Provider.String(), nil)
	}

	return fs, nil
}

// refArg parses one reference argument and resolves its filesystem.
func refArg(ctx context.Context, arg string) (*CLIContext, objectRef, vfs.FileSystem, error) {
	cc := mustCLIContext(ctx)

	ref, err := parseRef(arg)
	if err != nil {
		return nil, objectRef{}, nil, err
	}

	fs, err := fileSystem(cc, ref)
	if err != nil {
		return nil, objectRef{}, nil, err
	}

	return cc, ref, fs, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", slog.String("ref", ref.String()))

	files, err := fs.ReadDirectory(ctx, ref.directory())
	if err != nil {
		return fmt.Errorf("listing %s: %w", ref, err)
	}

	// Directories first, then by name.
	slices.SortFunc(files, func(a, b vfs.File) int {
		if a.ID.IsDirectory() != b.ID.IsDirectory() {
			if a.ID.IsDirectory() {
				return -1
			}

			return 1
		}

		return cmp.Compare(a.Name, b.Name)
	})

	if cc.JSON {
		out := make([]entryJSON, 0, len(files))
		for _, f := range files {
			out = append(out, newEntryJSON(ref, f))
		}

		return printJSON(cc.Out, out)
	}

	rows := make([][]string, 0, len(files))

	for _, f := range files {
		name := f.Name
		if f.ID.IsDirectory() {
			name += "/"
		}

		size, modified := "", ""

		if f.Metadata != nil {
			if f.Metadata.Size != nil {
				size = formatSize(int64(*f.Metadata.Size))
			}

			if f.Metadata.ModifiedAt != nil {
				modified = formatTime(*f.Metadata.ModifiedAt)
			}
		}

		rows = append(rows, []string{name, size, modified, formatRef(ref.Provider, f.ID)})
	}

	printTable(cc.Out, []string{"NAME", "SIZE", "MODIFIED", "REF"}, rows)

	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	data, err := fs.ReadFile(ctx, ref.object())
	if err != nil {
		return fmt.Errorf("reading %s: %w", ref, err)
	}

	if _, err := cc.Out.Write(data); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[1])
	if err != nil {
		return err
	}

	if ref.Dir {
		return usageErrorf("%s names a directory; put needs a file reference", args[1])
	}

	content, err := readLocal(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	start := time.Now()

	if err := fs.WriteFile(ctx, ref.object(), content); err != nil {
		return fmt.Errorf("uploading to %s: %w", ref, err)
	}

	cc.Logger.Debug("put complete",
		slog.String("ref", ref.String()),
		slog.Int("bytes", len(content)),
		slog.Duration("elapsed", time.Since(start)),
	)
	cc.Statusf("Uploaded %s (%s)\n", ref, formatSize(int64(len(content))))

	return nil
}

// readLocal reads a local file, or stdin for "-".
func readLocal(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	return data, nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	if err := fs.Delete(ctx, ref.object()); err != nil {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}

	cc.Statusf("Deleted %s\n", ref)

	return nil
}

func runTrash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}

	p, err := cc.Registry.Get(ref.Provider)
	if err != nil {
		return err
	}

	trash := p.Trash()
	if trash == nil {
		return vfs.Wrap(vfs.ErrUnsupported, "SendToTrash", ref.Provider.String(), nil)
	}

	if err := trash.SendToTrash(ctx, ref.object()); err != nil {
		return fmt.Errorf("trashing %s: %w", ref, err)
	}

	cc.Statusf("Moved %s to trash\n", ref)

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	dest, err := parseRef(args[1])
	if err != nil {
		return err
	}

	if dest.Provider != ref.Provider {
		return usageErrorf("mv works within one provider; %s and %s differ", ref.Provider, dest.Provider)
	}

	moved, err := fs.MoveTo(ctx, ref.object(), dest.directory())
	if err != nil {
		return fmt.Errorf("moving %s: %w", ref, err)
	}

	return printRef(cc, ref, moved)
}

func runRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	renamed, err := fs.Rename(ctx, ref.object(), args[1])
	if err != nil {
		return fmt.Errorf("renaming %s: %w", ref, err)
	}

	return printRef(cc, ref, renamed)
}

func runCreate(cmd *cobra.Command, args []string, dir bool) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	file := vfs.File{Name: args[1]}
	if dir {
		file.Metadata = &vfs.Metadata{MimeType: vfs.Ptr(vfs.MimeTypeDirectory)}
	}

	if err := fs.Create(ctx, ref.directory(), file); err != nil {
		return fmt.Errorf("creating %s in %s: %w", args[1], ref, err)
	}

	cc.Statusf("Created %s in %s\n", args[1], ref)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	md, err := fs.GetMetadata(ctx, ref.object())
	if err != nil {
		return fmt.Errorf("stat %s: %w", ref, err)
	}

	out := newMetadataJSON(md)

	if cc.JSON {
		return printJSON(cc.Out, out)
	}

	printMetadata(cc.Out, ref, out)

	return nil
}

func runLn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	link, err := fs.CreateLink(ctx, ref.directory(), args[1], vfs.PlainFile(args[2]))
	if err != nil {
		return fmt.Errorf("linking %s in %s: %w", args[1], ref, err)
	}

	return printRef(cc, ref, link)
}

func runReadlink(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cc, ref, fs, err := refArg(ctx, args[0])
	if err != nil {
		return err
	}

	target, err := fs.ReadLink(ctx, vfs.NewObjectID(ref.Path, vfs.Symlink))
	if err != nil {
		return fmt.Errorf("readlink %s: %w", ref, err)
	}

	fmt.Fprintln(cc.Out, target.Path)

	return nil
}

// printRef prints an id returned by a backend, as JSON with --json.
func printRef(cc *CLIContext, ref objectRef, id vfs.ObjectID) error {
	if cc.JSON {
		return printJSON(cc.Out, refJSON{Ref: formatRef(ref.Provider, id), Path: id.Path, Type: id.Type})
	}

	fmt.Fprintln(cc.Out, formatRef(ref.Provider, id))

	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
