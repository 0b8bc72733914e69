package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/scanner"
	"retailpos/backend/internal/store"
)

const maxScanKeystrokes = 4096

// ResolveScan decodes recorded scanner keystrokes and any codes the client
// already decoded, then looks each one up in the catalog.
func (s *Service) ResolveScan(ctx context.Context, req domain.ScanRequest) (domain.ScanResponse, error) {
	if len(req.Keystrokes) == 0 && len(req.Codes) == 0 {
		return domain.ScanResponse{}, invalidf("keystrokes or codes are required")
	}
	if len(req.Keystrokes) > maxScanKeystrokes {
		return domain.ScanResponse{}, invalidf("too many keystrokes")
	}

	codes := make([]string, 0, len(req.Codes)+2)
	if len(req.Keystrokes) > 0 {
		base := time.Unix(0, 0).UTC()
		keys := make([]scanner.Keystroke, 0, len(req.Keystrokes))
		for _, k := range req.Keystrokes {
			if k.OffsetMS < 0 {
				return domain.ScanResponse{}, invalidf("keystroke offsets must not be negative")
			}
			keys = append(keys, scanner.Keystroke{Key: k.Key, At: base.Add(time.Duration(k.OffsetMS) * time.Millisecond)})
		}
		for _, scan := range scanner.DecodeAll(scanner.DefaultConfig(), keys) {
			codes = append(codes, scan.Code)
		}
	}
	for _, code := range req.Codes {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}

	resp := domain.ScanResponse{Results: make([]domain.ScanResult, 0, len(codes))}
	for _, code := range codes {
		symbology, valid := scanner.Classify(code)
		result := domain.ScanResult{Code: code, Symbology: symbology, CheckValid: valid}
		product, err := s.LookupProduct(ctx, code)
		switch {
		case err == nil && product.Active:
			result.Found = true
			result.Product = &product
		case err == nil, errors.Is(err, store.ErrNotFound):
		default:
			return domain.ScanResponse{}, err
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}
