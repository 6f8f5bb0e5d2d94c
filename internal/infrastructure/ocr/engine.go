package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

type Config struct {
	PdftoppmBin  string
	TesseractBin string
	Lang         string

	// FastDPI feeds tesseract, VisionDPI the vision model. The model
	// reads low-resolution pages fine and the smaller payload matters.
	FastDPI   int
	VisionDPI int

	// Escalation to the vision model triggers when the fast path stays
	// under either bar.
	EscalateConfidence float64 // 0..100 tesseract scale
	EscalateMinWords   int

	// VisionMinChars is the shortest vision answer accepted as a real
	// transcription rather than a refusal or hallucinated fragment.
	VisionMinChars int

	// NativeMinChars short-circuits pages whose text layer turns out to
	// be present after all.
	NativeMinChars int

	LowQuality  float64 // 0..1, below it a per-page warning is emitted
	PageTimeout time.Duration

	// VisionInterval spaces out vision calls. The backend runs a single
	// model instance, so pages are processed serially anyway.
	VisionInterval time.Duration

	// Observer, when set, receives the recognition method of every
	// finished page ("native", "tesseract", "vision", "vision-rotated",
	// or "" for a page that yielded nothing).
	Observer func(method string)
}

func (c *Config) applyDefaults() {
	if c.PdftoppmBin == "" {
		c.PdftoppmBin = "pdftoppm"
	}
	if c.TesseractBin == "" {
		c.TesseractBin = "tesseract"
	}
	if c.Lang == "" {
		c.Lang = "ita+eng"
	}
	if c.FastDPI == 0 {
		c.FastDPI = 400
	}
	if c.VisionDPI == 0 {
		c.VisionDPI = 150
	}
	if c.EscalateConfidence == 0 {
		c.EscalateConfidence = 75
	}
	if c.EscalateMinWords == 0 {
		c.EscalateMinWords = 10
	}
	if c.VisionMinChars == 0 {
		c.VisionMinChars = 50
	}
	if c.NativeMinChars == 0 {
		c.NativeMinChars = 50
	}
	if c.LowQuality == 0 {
		c.LowQuality = 0.5
	}
	if c.PageTimeout == 0 {
		c.PageTimeout = 3 * time.Minute
	}
	if c.VisionInterval == 0 {
		c.VisionInterval = time.Second
	}
}

type Engine struct {
	runner  Runner
	native  ports.TextExtractor
	vision  ports.CompletionClient
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

func NewEngine(runner Runner, native ports.TextExtractor, vision ports.CompletionClient, cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:  runner,
		native:  native,
		vision:  vision,
		limiter: rate.NewLimiter(rate.Every(cfg.VisionInterval), 1),
		cfg:     cfg,
		logger:  logger,
	}
}

func (e *Engine) Run(ctx context.Context, filePath string, pages []int) (*domain.OCRResult, error) {
	return e.run(ctx, filePath, pages, nil, true)
}

func (e *Engine) RunWithRotations(ctx context.Context, filePath string, rotations map[int]int) (*domain.OCRResult, error) {
	var pages []int
	for page := range rotations {
		pages = append(pages, page)
	}
	return e.run(ctx, filePath, pages, rotations, false)
}

// run processes the selected pages serially. wanted nil means all pages.
func (e *Engine) run(ctx context.Context, filePath string, wanted []int, rotations map[int]int, useNative bool) (*domain.OCRResult, error) {
	tmpDir, err := os.MkdirTemp("", "docintel-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("ocr temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	images, err := rasterAll(ctx, e.runner, e.cfg.PdftoppmBin, filePath, tmpDir, e.cfg.FastDPI)
	if err != nil {
		return nil, err
	}

	var nativePages map[int]string
	if useNative && e.native != nil {
		nativePages = e.nativeTexts(ctx, filePath)
	}

	wantedSet := make(map[int]bool, len(wanted))
	for _, p := range wanted {
		wantedSet[p] = true
	}

	result := &domain.OCRResult{}
	var confSum float64
	var confN int

	for idx, imgPath := range images {
		pageNum := idx + 1
		if len(wantedSet) > 0 && !wantedSet[pageNum] {
			continue
		}

		page, warnings := e.runPage(ctx, filePath, imgPath, tmpDir, pageNum, rotations[pageNum], nativePages[pageNum])
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.cfg.Observer != nil {
			e.cfg.Observer(page.Method)
		}
		result.Pages = append(result.Pages, page)
		result.Warnings = append(result.Warnings, warnings...)
		if page.Confidence > 0 {
			confSum += page.Confidence
			confN++
		}
		if strings.TrimSpace(page.Text) != "" {
			result.Success = true
		}
	}

	if confN > 0 {
		result.AvgConfidence = confSum / float64(confN)
	}
	return result, nil
}

// runPage runs the per-page ladder under the page timeout: native text,
// tesseract, vision, vision after a 180 turn. A timeout yields an empty
// zero-confidence page so one bad page cannot stall the document.
func (e *Engine) runPage(ctx context.Context, filePath, imgPath, tmpDir string, pageNum, rotation int, nativeText string) (domain.OCRPageResult, []string) {
	pageCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	page, warnings := e.recognize(pageCtx, filePath, imgPath, tmpDir, pageNum, rotation, nativeText)

	if pageCtx.Err() != nil && ctx.Err() == nil {
		e.logger.Warn("page ocr timed out", "page", pageNum, "timeout", e.cfg.PageTimeout)
		return domain.OCRPageResult{PageNumber: pageNum, Method: "tesseract"},
			[]string{fmt.Sprintf("Pagina %d: timeout OCR, pagina saltata", pageNum)}
	}
	if page.Confidence > 0 && page.Confidence < e.cfg.LowQuality {
		warnings = append(warnings, fmt.Sprintf("Pagina %d: qualità OCR bassa (%.2f)", pageNum, page.Confidence))
	}
	return page, warnings
}

func (e *Engine) recognize(ctx context.Context, filePath, imgPath, tmpDir string, pageNum, rotation int, nativeText string) (domain.OCRPageResult, []string) {
	if rotation == 0 && len(strings.TrimSpace(nativeText)) > e.cfg.NativeMinChars {
		return domain.OCRPageResult{
			PageNumber: pageNum,
			Text:       nativeText,
			Confidence: 1.0,
			Method:     "native",
		}, nil
	}

	var warnings []string
	fast, err := e.fastPath(ctx, imgPath, pageNum, rotation)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Pagina %d: %v", pageNum, err))
		fast = &fastPage{}
	}
	if fast.Confidence >= e.cfg.EscalateConfidence && fast.MeaningfulWords >= e.cfg.EscalateMinWords {
		return domain.OCRPageResult{
			PageNumber: pageNum,
			Text:       fast.Text,
			Confidence: fast.Confidence / 100.0,
			Method:     "tesseract",
			Words:      fast.Words,
		}, warnings
	}

	e.logger.Info("escalating page to vision model",
		"page", pageNum, "fast_confidence", fast.Confidence, "meaningful_words", fast.MeaningfulWords)
	if vision, vwarn := e.visionPath(ctx, filePath, tmpDir, pageNum, rotation); vision != nil {
		return *vision, append(warnings, vwarn...)
	} else {
		warnings = append(warnings, vwarn...)
	}

	// Vision failed too. A weak fast-path result still beats nothing.
	if strings.TrimSpace(fast.Text) != "" {
		return domain.OCRPageResult{
			PageNumber: pageNum,
			Text:       fast.Text,
			Confidence: fast.Confidence / 100.0,
			Method:     "tesseract",
			Words:      fast.Words,
		}, warnings
	}
	return domain.OCRPageResult{PageNumber: pageNum, Method: "tesseract"},
		append(warnings, fmt.Sprintf("Pagina %d: nessun testo riconosciuto", pageNum))
}

// fastPath preprocesses the page raster and OCRs it with tesseract.
func (e *Engine) fastPath(ctx context.Context, imgPath string, pageNum, rotation int) (*fastPage, error) {
	img, err := preprocess(imgPath)
	if err != nil {
		return nil, err
	}
	if rotation != 0 {
		img = rotate(img, rotation)
	}
	processed := imgPath + ".prep.png"
	if err := savePNG(img, processed); err != nil {
		return nil, fmt.Errorf("save preprocessed page: %w", err)
	}
	return runTesseract(ctx, e.runner, e.cfg.TesseractBin, processed, e.cfg.Lang)
}

// visionPath renders the page at vision resolution and asks the model for
// a transcription, retrying once upside down when the first answer is too
// short to be real text.
func (e *Engine) visionPath(ctx context.Context, filePath, tmpDir string, pageNum, rotation int) (*domain.OCRPageResult, []string) {
	if e.vision == nil {
		return nil, nil
	}
	visionImg, err := rasterPage(ctx, e.runner, e.cfg.PdftoppmBin, filePath, tmpDir, pageNum, e.cfg.VisionDPI)
	if err != nil {
		return nil, []string{fmt.Sprintf("Pagina %d: %v", pageNum, err)}
	}

	img, err := preprocessVision(visionImg)
	if err != nil {
		return nil, []string{fmt.Sprintf("Pagina %d: %v", pageNum, err)}
	}
	if rotation != 0 {
		img = rotate(img, rotation)
	}

	text, err := e.transcribe(ctx, img, pageNum)
	if err == nil && len(strings.TrimSpace(text)) >= e.cfg.VisionMinChars {
		return &domain.OCRPageResult{
			PageNumber: pageNum,
			Text:       strings.TrimSpace(text),
			Confidence: 0.9,
			Method:     "vision",
		}, nil
	}

	// Upside-down scans produce near-empty transcriptions. One more
	// attempt after a half turn recovers most of them.
	if rotation == 0 {
		flippedText, ferr := e.transcribe(ctx, rotate(img, 180), pageNum)
		if ferr == nil && len(strings.TrimSpace(flippedText)) >= e.cfg.VisionMinChars {
			e.logger.Info("page recovered after 180 rotation", "page", pageNum)
			return &domain.OCRPageResult{
				PageNumber: pageNum,
				Text:       strings.TrimSpace(flippedText),
				Confidence: 0.85,
				Method:     "vision-rotated",
			}, nil
		}
	}
	if err != nil {
		return nil, []string{fmt.Sprintf("Pagina %d: trascrizione fallita: %v", pageNum, err)}
	}
	return nil, []string{fmt.Sprintf("Pagina %d: trascrizione troppo corta", pageNum)}
}

func (e *Engine) transcribe(ctx context.Context, img image.Image, pageNum int) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page %d: %w", pageNum, err)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return e.vision.GenerateVision(ctx, visionPrompt, buf.Bytes())
}

const visionPrompt = `Trascrivi tutto il testo visibile in questa immagine di un documento aziendale italiano.
Mantieni la struttura originale del documento. Rispondi SOLO con il testo trascritto, senza commenti.`

func (e *Engine) nativeTexts(ctx context.Context, filePath string) map[int]string {
	extracted, err := e.native.Extract(ctx, filePath)
	if err != nil || extracted == nil {
		return nil
	}
	texts := make(map[int]string, len(extracted.Pages))
	for _, p := range extracted.Pages {
		texts[p.PageNumber] = p.Text
	}
	return texts
}

var _ ports.OCREngine = (*Engine)(nil)
