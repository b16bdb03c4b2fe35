package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP engine_uptime_seconds Time since the engine started\n")
	sb.WriteString("# TYPE engine_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("engine_uptime_seconds %d\n", snap.UptimeSeconds))
	sb.WriteString("\n")

	sb.WriteString("# HELP engine_jobs_enqueued_total Module jobs accepted into a parent queue\n")
	sb.WriteString("# TYPE engine_jobs_enqueued_total counter\n")
	for _, module := range sortedKeys(snap.JobsEnqueued) {
		sb.WriteString(fmt.Sprintf("engine_jobs_enqueued_total{module=%q} %d\n", module, snap.JobsEnqueued[module]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP engine_jobs_finished_total Terminal job transitions by status\n")
	sb.WriteString("# TYPE engine_jobs_finished_total counter\n")
	for _, status := range sortedKeys(snap.JobsFinished) {
		sb.WriteString(fmt.Sprintf("engine_jobs_finished_total{status=%q} %d\n", status, snap.JobsFinished[status]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP engine_dispatch_refused_total Dispatches refused on a negative balance\n")
	sb.WriteString("# TYPE engine_dispatch_refused_total counter\n")
	sb.WriteString(fmt.Sprintf("engine_dispatch_refused_total %d\n", snap.DispatchRefused))
	sb.WriteString("\n")

	if snap.GenerateCount > 0 {
		avg := snap.GenerateDurMs / snap.GenerateCount
		sb.WriteString("# HELP engine_generate_duration_ms_avg Average external generation latency\n")
		sb.WriteString("# TYPE engine_generate_duration_ms_avg gauge\n")
		sb.WriteString(fmt.Sprintf("engine_generate_duration_ms_avg %d\n", avg))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP engine_ledger_entries_total Committed ledger entries by reason\n")
	sb.WriteString("# TYPE engine_ledger_entries_total counter\n")
	for _, reason := range sortedKeys(snap.LedgerEntries) {
		sb.WriteString(fmt.Sprintf("engine_ledger_entries_total{reason=%q} %d\n", reason, snap.LedgerEntries[reason]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP engine_check_ins_total Successful daily check-ins\n")
	sb.WriteString("# TYPE engine_check_ins_total counter\n")
	sb.WriteString(fmt.Sprintf("engine_check_ins_total %d\n", snap.CheckIns))
	sb.WriteString("\n")

	sb.WriteString("# HELP engine_redemptions_total Successful code redemptions\n")
	sb.WriteString("# TYPE engine_redemptions_total counter\n")
	sb.WriteString(fmt.Sprintf("engine_redemptions_total %d\n", snap.Redemptions))

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
