package antispam

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sentinel-spamguard/internal/arbitration"
	"sentinel-spamguard/internal/signals"
)

const (
	maxMessageRunes  = 1900
	maxEvidenceRunes = 180
	maxEvidenceLines = 8
)

func mention(userID string) string {
	return "<@" + userID + ">"
}

func signalList(kinds []signals.Kind) string {
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return strings.Join(names, ",")
}

func restrictionReason(kinds []signals.Kind, occurrence int) string {
	return fmt.Sprintf("spam detected: %s (occurrence %d)", signalList(kinds), occurrence)
}

func decisionRequestText(s Settings, userID string, occurrence int, duration, timeout time.Duration, restricted bool, evidence []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Spam detected from %s (occurrence %d of %d). ", mention(userID), occurrence, s.TerminalThreshold)
	if restricted {
		fmt.Fprintf(&b, "They are timed out for %s.\n", formatDuration(duration))
	} else {
		b.WriteString("Their timeout could not be applied.\n")
	}
	if len(evidence) > 0 {
		b.WriteString("Recent messages:\n")
		start := 0
		if len(evidence) > maxEvidenceLines {
			start = len(evidence) - maxEvidenceLines
		}
		for _, line := range evidence[start:] {
			b.WriteString("> ")
			b.WriteString(truncate(strings.ReplaceAll(line, "\n", " "), maxEvidenceRunes))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "React with %s to ban or %s to lift the timeout. This request closes after %s.", s.ConfirmEmoji, s.PardonEmoji, formatDuration(timeout))
	return truncate(b.String(), maxMessageRunes)
}

func resolutionText(original string, res arbitration.Resolution) string {
	var suffix string
	switch res.Outcome {
	case arbitration.OutcomeConfirm:
		suffix = fmt.Sprintf("Resolved: banned by %s.", mention(res.VoterID))
	case arbitration.OutcomePardon:
		suffix = fmt.Sprintf("Resolved: timeout lifted by %s.", mention(res.VoterID))
	default:
		suffix = "Closed: no moderator responded, the timeout stays in place."
	}
	return truncate(original, maxMessageRunes-utf8.RuneCountInString(suffix)-2) + "\n\n" + suffix
}

func outcomeNotice(userID string, res arbitration.Resolution) string {
	switch res.Outcome {
	case arbitration.OutcomeConfirm:
		return fmt.Sprintf("%s has been banned.", mention(userID))
	case arbitration.OutcomePardon:
		return fmt.Sprintf("The timeout for %s has been lifted.", mention(userID))
	default:
		return fmt.Sprintf("No moderator responded about %s. The timeout stays in place.", mention(userID))
	}
}

func permanentNotice(userID string, occurrence int) string {
	return fmt.Sprintf("%s reached %d spam detections and has been restricted permanently.", mention(userID), occurrence)
}

func linkWarning(userID string) string {
	return fmt.Sprintf("%s links to that site are not allowed here.", mention(userID))
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}
