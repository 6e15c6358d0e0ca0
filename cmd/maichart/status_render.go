package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"maichart/internal/api"
	"maichart/internal/session"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 22
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// sessionKind maps a lifecycle status onto a display severity.
func sessionKind(status string) statusKind {
	switch session.Status(status) {
	case session.StatusCompleted:
		return statusOK
	case session.StatusError:
		return statusError
	case session.StatusProcessing:
		return statusWarn
	default:
		return statusInfo
	}
}

// humanize turns snake_case identifiers into title case labels.
func humanize(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

func renderSessionStatus(out io.Writer, st *api.SessionStatus, colorize bool) {
	for _, line := range renderSectionHeader("Session "+st.SessionID, colorize) {
		fmt.Fprintln(out, line)
	}
	detail := st.Status
	if st.Step != "" {
		detail += " (" + st.Step + ")"
	}
	fmt.Fprintln(out, renderStatusLine("Status", sessionKind(st.Status), detail, colorize))
	if st.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, st.Error, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("File", statusInfo, fmt.Sprintf("%s (%d bytes)", st.Filename, st.FileSize), colorize))
	fmt.Fprintln(out, renderStatusLine("Recording mode", statusInfo, humanize(st.RecordingMode), colorize))
	if st.ChunksReceived > 0 {
		fmt.Fprintln(out, renderStatusLine("Chunks received", statusInfo, fmt.Sprintf("%d", st.ChunksReceived), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Uploaded", statusInfo, st.UploadedAt, colorize))
	if st.ProcessingCompletedAt != "" {
		fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, st.ProcessingCompletedAt, colorize))
	}
	if st.MedicalExtractionStatus != "" {
		fmt.Fprintln(out, renderStatusLine("Medical extraction", extractionKind(st.MedicalExtractionStatus), humanize(st.MedicalExtractionStatus), colorize))
	}
}

func extractionKind(status string) statusKind {
	switch session.ExtractionStatus(status) {
	case session.ExtractionCompleted:
		return statusOK
	case session.ExtractionError:
		return statusError
	case session.ExtractionProcessing, session.ExtractionPending:
		return statusWarn
	default:
		return statusInfo
	}
}
