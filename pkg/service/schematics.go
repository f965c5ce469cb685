package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/schematic/export"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
)

// UploadSchematic parses and persists an uploaded layout file.
func (s *Service) UploadSchematic(ctx context.Context, filename string, data []byte, hints parser.Hints, createdBy string) (*schematic.SchematicData, error) {
	if int64(len(data)) > s.limits.MaxUploadBytes {
		return nil, errcode.New(errcode.PayloadTooLarge,
			"upload is %d bytes, limit is %d bytes", len(data), s.limits.MaxUploadBytes).
			WithDetail("limit", s.limits.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, errcode.New(errcode.FileUploadError, "upload is empty")
	}

	// The whole operation runs under the upload budget; the parse phase has
	// its own tighter budget inside it.
	var parsed *schematic.SchematicData
	err := s.withTimeout(ctx, s.timeouts.Upload, "uploadSchematic", func(ctx context.Context) error {
		perr := s.withTimeout(ctx, s.timeouts.Parse, "parse", func(ctx context.Context) error {
			var err error
			parsed, err = s.parser.Parse(ctx, filename, data, hints)
			return err
		})
		if perr != nil {
			return perr
		}
		parsed.CreatedBy = createdBy

		if err := s.store.Schematics.Create(ctx, parsed, data); err != nil {
			return fmt.Errorf("storing schematic %s: %w", parsed.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("schematic uploaded",
		"id", parsed.ID, "filename", filename, "dies", parsed.DieCount(), "createdBy", createdBy)
	return parsed, nil
}

// ListSchematics returns all stored schematics, newest first.
func (s *Service) ListSchematics(ctx context.Context) ([]*repository.SchematicRecord, error) {
	return s.store.Schematics.List(ctx)
}

// GetSchematic returns one stored schematic.
func (s *Service) GetSchematic(ctx context.Context, id string) (*repository.SchematicRecord, error) {
	return s.store.Schematics.Get(ctx, id)
}

// GetDieBoundaries returns the boundary list of a schematic.
func (s *Service) GetDieBoundaries(ctx context.Context, id string) ([]schematic.DieBoundary, error) {
	rec, err := s.store.Schematics.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Data.Dies, nil
}

// DeleteSchematic removes a schematic and its stored file bytes.
func (s *Service) DeleteSchematic(ctx context.Context, id string) error {
	if err := s.store.Schematics.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("schematic deleted", "id", id)
	return nil
}

// AnnotateSchematic replaces a schematic's tags and notes. The parsed body
// itself is immutable.
func (s *Service) AnnotateSchematic(ctx context.Context, id string, tags []string, notes string) error {
	return s.store.Schematics.UpdateAnnotations(ctx, id, tags, notes)
}

// ExportSchematic re-emits a stored schematic as SVG or DXF. sites, when
// non-nil, are drawn as an overlay on the SVG rendering.
func (s *Service) ExportSchematic(ctx context.Context, id, format string, sites []geometry.Point) ([]byte, string, error) {
	rec, err := s.store.Schematics.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "svg":
		opts := export.SVGOptions{Sites: sites, ShowLabels: rec.Data.DieCount() <= 500}
		if err := export.WriteSVG(&buf, rec.Data, opts); err != nil {
			return nil, "", errcode.Wrap(errcode.Internal, err, "rendering schematic %s", id)
		}
		return buf.Bytes(), "image/svg+xml", nil
	case "dxf":
		if err := export.WriteDXF(&buf, rec.Data); err != nil {
			return nil, "", errcode.Wrap(errcode.Internal, err, "rendering schematic %s", id)
		}
		return buf.Bytes(), "application/dxf", nil
	default:
		return nil, "", errcode.New(errcode.ValidationError,
			"unsupported export format %q; supported formats: svg, dxf", format).
			WithDetail("supportedFormats", []string{"svg", "dxf"})
	}
}

// DetectFormat exposes format detection for transports that validate before
// accepting an upload.
func (s *Service) DetectFormat(filename string, data []byte) (schematic.Format, error) {
	return parser.DetectFormat(filename, data)
}
