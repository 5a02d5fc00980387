// Concatenation and extraction of quiescent multi-part deliveries.
// Extraction happens in a temporary staging directory which is atomically
// renamed into the published output location on full success, so a crash
// or cancellation mid-extraction never leaves partial output at the
// published path. Input parts are only ever read; the producing process
// owns them.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"landfall/pkg/logger"
)

var log = logger.Get("Assemble")

// Output is a single file produced by assembling an item.
type Output struct {
	Path string
	Size int64
}

// Request describes one assembly job. Parts are in sequence order.
// OnExtracting, when set, is invoked after part concatenation completes
// and before extraction of the payload begins.
type Request struct {
	Parts        []string
	BaseName     string
	OutputDir    string
	OnExtracting func()
}

// Assembler is the archive codec collaborator boundary: given ordered
// part paths and an output location, produce extracted output files or
// a typed error. Implementations must be idempotent across re-invocation.
type Assembler interface {
	Assemble(ctx context.Context, request Request) ([]Output, error)
}

// ArchiveCodec assembles items using automatic archive format
// identification. Payloads that match no known archive format are
// passed through unchanged as a single output file.
type ArchiveCodec struct{}

func NewArchiveCodec() *ArchiveCodec {
	return &ArchiveCodec{}
}

func (codec *ArchiveCodec) Assemble(ctx context.Context, request Request) ([]Output, error) {
	if len(request.Parts) == 0 {
		return nil, errors.New("cannot assemble an item with no parts")
	}

	parent := filepath.Dir(request.OutputDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	// The work dir lives next to the final output dir so the publish
	// rename below stays on one filesystem.
	workDir, err := os.MkdirTemp(parent, ".landfall-work-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	payload, err := codec.concatenate(ctx, request.Parts, workDir, request.BaseName)
	if err != nil {
		return nil, err
	}

	if request.OnExtracting != nil {
		request.OnExtracting()
	}

	staging := filepath.Join(workDir, "extracted")
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := codec.extract(ctx, payload, request.BaseName, staging); err != nil {
		return nil, err
	}

	// Atomic publish: any previously published output for this item is
	// replaced wholesale, which is what makes a crash-restart rerun of
	// the same item converge on identical output.
	if err := os.RemoveAll(request.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to clear previous output: %w", err)
	}
	if err := os.Rename(staging, request.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to publish output: %w", err)
	}

	return collectOutputs(request.OutputDir)
}

// concatenate joins the item parts, in order, into a single payload.
// Single-part items are read in place; nothing is copied for them.
func (codec *ArchiveCodec) concatenate(ctx context.Context, parts []string, workDir, baseName string) (string, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}

	payloadPath := filepath.Join(workDir, baseName)
	payload, err := os.Create(payloadPath)
	if err != nil {
		return "", fmt.Errorf("failed to create payload file: %w", err)
	}
	defer payload.Close()

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		source, err := os.Open(part)
		if err != nil {
			return "", fmt.Errorf("failed to read part '%s': %w", part, err)
		}
		_, err = io.Copy(payload, source)
		source.Close()
		if err != nil {
			return "", fmt.Errorf("failed to append part '%s': %w", part, err)
		}
	}

	if err := payload.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush payload file: %w", err)
	}

	return payloadPath, nil
}

func (codec *ArchiveCodec) extract(ctx context.Context, payloadPath, baseName, staging string) error {
	payload, err := os.Open(payloadPath)
	if err != nil {
		return fmt.Errorf("failed to open payload: %w", err)
	}
	defer payload.Close()

	format, stream, err := archives.Identify(ctx, baseName, payload)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			// Not an archive at all; the payload IS the artifact.
			log.Emit(logger.DEBUG, "Payload %s matched no archive format, passing through\n", baseName)
			return writeEntry(ctx, filepath.Join(staging, baseName), stream)
		}

		return fmt.Errorf("failed to identify payload format: %w", err)
	}

	switch f := format.(type) {
	case archives.Extractor:
		if err := f.Extract(ctx, stream, func(ctx context.Context, entry archives.FileInfo) error {
			return extractEntry(ctx, staging, entry)
		}); err != nil {
			return wrapExtractionFailure(err)
		}
		return nil
	case archives.Decompressor:
		reader, err := f.OpenReader(stream)
		if err != nil {
			return wrapExtractionFailure(err)
		}
		defer reader.Close()

		name := strings.TrimSuffix(baseName, format.Extension())
		if name == "" || name == baseName {
			name = baseName + ".out"
		}
		return writeEntry(ctx, filepath.Join(staging, name), reader)
	default:
		return fmt.Errorf("payload format '%s' supports neither extraction nor decompression", format.Extension())
	}
}

func extractEntry(ctx context.Context, staging string, entry archives.FileInfo) error {
	if entry.IsDir() || !entry.Mode().IsRegular() {
		return nil
	}

	target, err := sanitizeEntryPath(staging, entry.NameInArchive)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	reader, err := entry.Open()
	if err != nil {
		return wrapExtractionFailure(err)
	}
	defer reader.Close()

	return writeEntry(ctx, target, reader)
}

// sanitizeEntryPath rejects archive entry names that would escape the
// staging directory (absolute paths or '..' traversal).
func sanitizeEntryPath(staging, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", fmt.Errorf("archive entry '%s' has an illegal path", name)
	}

	return filepath.Join(staging, cleaned), nil
}

func writeEntry(ctx context.Context, target string, source io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(file, source); err != nil {
		return wrapExtractionFailure(err)
	}

	return nil
}

// wrapExtractionFailure annotates errors from the archive reader,
// flagging the (fairly common with live distributions) case of an
// encrypted payload distinctly so the operator sees it for what it is.
func wrapExtractionFailure(err error) error {
	lowered := strings.ToLower(err.Error())
	if strings.Contains(lowered, "encrypt") || strings.Contains(lowered, "password") || strings.Contains(lowered, "passphrase") {
		return fmt.Errorf("archive payload is encrypted: %w", err)
	}

	return fmt.Errorf("archive extraction failed: %w", err)
}

func collectOutputs(outputDir string) ([]Output, error) {
	outputs := make([]Output, 0, 4)
	err := filepath.WalkDir(outputDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		outputs = append(outputs, Output{Path: path, Size: info.Size()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate published output: %w", err)
	}

	return outputs, nil
}
