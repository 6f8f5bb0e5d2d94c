package config

import "testing"

func TestLoadIncludesOCRDefaults(t *testing.T) {
	t.Setenv("OCR_FAST_DPI", "")
	t.Setenv("OCR_ESCALATE_CONFIDENCE", "")
	t.Setenv("OCR_ESCALATE_MIN_WORDS", "")
	t.Setenv("OCR_VISION_MIN_CHARS", "")
	t.Setenv("OCR_LOW_QUALITY", "")

	cfg := Load()
	if cfg.OCRFastDPI != 400 {
		t.Fatalf("expected default fast DPI 400, got %d", cfg.OCRFastDPI)
	}
	if cfg.OCREscalateConfidence != 75 {
		t.Fatalf("expected default escalate confidence 75, got %v", cfg.OCREscalateConfidence)
	}
	if cfg.OCREscalateMinWords != 10 {
		t.Fatalf("expected default escalate min words 10, got %d", cfg.OCREscalateMinWords)
	}
	if cfg.OCRVisionMinChars != 50 {
		t.Fatalf("expected default vision min chars 50, got %d", cfg.OCRVisionMinChars)
	}
	if cfg.OCRLowQuality != 0.5 {
		t.Fatalf("expected default low quality 0.5, got %v", cfg.OCRLowQuality)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("OCR_FAST_DPI", "300")
	t.Setenv("OCR_ESCALATE_CONFIDENCE", "80.5")
	t.Setenv("CLASSIFIER_RULE_THRESHOLD", "0.8")
	t.Setenv("WORKER_MAX_ATTEMPTS", "5")
	t.Setenv("NATS_SUBJECT", "docs.custom")

	cfg := Load()
	if cfg.OCRFastDPI != 300 {
		t.Fatalf("expected fast DPI 300, got %d", cfg.OCRFastDPI)
	}
	if cfg.OCREscalateConfidence != 80.5 {
		t.Fatalf("expected escalate confidence 80.5, got %v", cfg.OCREscalateConfidence)
	}
	if cfg.ClassifierRuleThreshold != 0.8 {
		t.Fatalf("expected rule threshold 0.8, got %v", cfg.ClassifierRuleThreshold)
	}
	if cfg.WorkerMaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.WorkerMaxAttempts)
	}
	if cfg.NATSSubject != "docs.custom" {
		t.Fatalf("expected subject override, got %q", cfg.NATSSubject)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("OCR_FAST_DPI", "many")
	t.Setenv("OCR_LOW_QUALITY", "half")

	cfg := Load()
	if cfg.OCRFastDPI != 400 {
		t.Fatalf("expected fallback fast DPI 400, got %d", cfg.OCRFastDPI)
	}
	if cfg.OCRLowQuality != 0.5 {
		t.Fatalf("expected fallback low quality 0.5, got %v", cfg.OCRLowQuality)
	}
}
