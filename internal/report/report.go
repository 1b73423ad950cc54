// Package report formats an orchestrator.RunSummary into a human-readable
// markdown message (spec §4.9). Delivery is outsourced to the notify
// package's SMTP collaborator.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tikibozo/kometa-ai/internal/orchestrator"
)

// Version is stamped into every rendered report. It defaults to "dev";
// nothing in this module assigns it.
var Version = "dev"

// Format renders summary as a markdown-acceptable plain-text message,
// mirroring the original implementation's per-collection add/remove
// sections. Errors are listed one per line in the order given, each with
// its context prefix; they are not grouped by context. The next activation,
// when given, is a line of the Overview section.
func Format(summary orchestrator.RunSummary, nextActivation string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Kometa-AI Summary (v%s)\n\n", Version)

	totalAdded, totalRemoved, totalErrors := 0, 0, len(summary.Errors)
	for _, c := range summary.Categories {
		totalAdded += c.Added
		totalRemoved += c.Removed
	}

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Total added: %d\n", totalAdded)
	fmt.Fprintf(&b, "- Total removed: %d\n", totalRemoved)
	fmt.Fprintf(&b, "- Errors: %d\n", totalErrors)
	fmt.Fprintf(&b, "- Run duration: %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(1e6))
	if nextActivation != "" {
		fmt.Fprintf(&b, "- Next scheduled run: %s\n", nextActivation)
	}
	b.WriteString("\n")

	if totalAdded == 0 && totalRemoved == 0 {
		b.WriteString("## Changes\n\nNo changes were made in this run\n\n")
	} else {
		b.WriteString("## Changes by Category\n\n")
		for _, c := range summary.Categories {
			formatCategoryChanges(&b, c)
		}
	}

	b.WriteString("## Errors\n\n")
	if len(summary.Errors) == 0 {
		b.WriteString("No errors encountered\n\n")
	} else {
		for _, e := range summary.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Processing Statistics\n\n")
	fmt.Fprintf(&b, "- Total tokens: %d\n", summary.TotalUsage.InputTokens+summary.TotalUsage.OutputTokens)
	fmt.Fprintf(&b, "- Total cost: $%.4f\n", summary.TotalUsage.EstimatedCost)
	fmt.Fprintf(&b, "- Oracle requests: %d\n", summary.TotalUsage.RequestCount)
	if len(summary.PhaseDurations) > 0 {
		phases := make([]string, 0, len(summary.PhaseDurations))
		for phase := range summary.PhaseDurations {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		for _, phase := range phases {
			fmt.Fprintf(&b, "- Phase %s: %s\n", phase, summary.PhaseDurations[phase].Round(1e6))
		}
	}
	b.WriteString("\n")
	for _, c := range summary.Categories {
		fmt.Fprintf(&b, "### %s\n", c.Category)
		fmt.Fprintf(&b, "- Reused from cache: %d\n", c.Reused)
		fmt.Fprintf(&b, "- Asked: %d\n", c.Asked)
		fmt.Fprintf(&b, "- Cost: $%.4f\n\n", c.Usage.EstimatedCost)
	}

	return b.String()
}

func formatCategoryChanges(b *strings.Builder, c orchestrator.CategorySummary) {
	fmt.Fprintf(b, "### %s\n\n", c.Category)
	if c.Added == 0 && c.Removed == 0 {
		b.WriteString("No changes\n\n")
		return
	}
	fmt.Fprintf(b, "- Added: %d\n", c.Added)
	fmt.Fprintf(b, "- Removed: %d\n\n", c.Removed)
}

// ShouldNotify decides whether a report should be sent, per spec §6's
// NOTIFY_ON_NO_CHANGES and NOTIFY_ON_ERRORS_ONLY toggles.
func ShouldNotify(summary orchestrator.RunSummary, notifyOnNoChanges, notifyOnErrorsOnly bool) bool {
	hasChanges := false
	for _, c := range summary.Categories {
		if c.Added > 0 || c.Removed > 0 {
			hasChanges = true
			break
		}
	}
	hasErrors := len(summary.Errors) > 0

	if notifyOnErrorsOnly {
		return hasErrors
	}
	if !hasChanges && !hasErrors && !notifyOnNoChanges {
		return false
	}
	return true
}
