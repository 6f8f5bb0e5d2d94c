package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
)

// rasterAll renders every page of the PDF into dir as PNG files and
// returns the sorted paths, one per page.
func rasterAll(ctx context.Context, r Runner, bin, pdfPath, dir string, dpi int) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <dir>/page
	if _, errb, err := r.Run(ctx, bin, "-r", fmt.Sprintf("%d", dpi), "-png", pdfPath, prefix); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	return matches, nil
}

// rasterPage renders a single page, used for the lower-resolution vision
// escalation pass.
func rasterPage(ctx context.Context, r Runner, bin, pdfPath, dir string, page, dpi int) (string, error) {
	prefix := filepath.Join(dir, fmt.Sprintf("vision-%d", page))
	args := []string{
		"-f", fmt.Sprintf("%d", page),
		"-l", fmt.Sprintf("%d", page),
		"-r", fmt.Sprintf("%d", dpi),
		"-png", "-singlefile",
		pdfPath, prefix,
	}
	if _, errb, err := r.Run(ctx, bin, args...); err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w (%s)", page, err, truncate(string(errb), 512))
	}
	return prefix + ".png", nil
}
