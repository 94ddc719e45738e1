package main

import (
	"fmt"
	"io"

	"voxelstream.io/internal/host"
)

// Minimal Prometheus exposition format.
func writeHostMetrics(w io.Writer, m host.Metrics) {
	fmt.Fprintf(w, "# HELP voxelstream_host_tick Current host tick.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_tick gauge\n")
	fmt.Fprintf(w, "voxelstream_host_tick %d\n", m.Tick)

	fmt.Fprintf(w, "# HELP voxelstream_host_sessions Current number of viewer sessions.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_sessions gauge\n")
	fmt.Fprintf(w, "voxelstream_host_sessions %d\n", m.Sessions)

	fmt.Fprintf(w, "# HELP voxelstream_host_observers Current number of observer connections.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_observers gauge\n")
	fmt.Fprintf(w, "voxelstream_host_observers %d\n", m.Observers)

	fmt.Fprintf(w, "# HELP voxelstream_host_resident_columns Columns held in the host store.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_resident_columns gauge\n")
	fmt.Fprintf(w, "voxelstream_host_resident_columns %d\n", m.ResidentColumns)

	fmt.Fprintf(w, "# HELP voxelstream_host_packets_total Datagrams handled by direction.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_packets_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_packets_total{dir=%q} %d\n", "in", m.PacketsInTotal)
	fmt.Fprintf(w, "voxelstream_host_packets_total{dir=%q} %d\n", "out", m.PacketsOutTotal)

	fmt.Fprintf(w, "# HELP voxelstream_host_decode_errors_total Datagrams dropped because they failed to decode.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_decode_errors_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_decode_errors_total %d\n", m.DecodeErrorsTotal)

	fmt.Fprintf(w, "# HELP voxelstream_host_send_errors_total Replies that could not be encoded or sent.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_send_errors_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_send_errors_total %d\n", m.SendErrorsTotal)

	fmt.Fprintf(w, "# HELP voxelstream_host_generated_total Columns generated.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_generated_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_generated_total %d\n", m.GeneratedTotal)

	fmt.Fprintf(w, "# HELP voxelstream_host_served_total Chunk updates sent.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_served_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_served_total %d\n", m.ServedTotal)

	fmt.Fprintf(w, "# HELP voxelstream_host_sessions_timed_out_total Sessions dropped for silence.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_host_sessions_timed_out_total counter\n")
	fmt.Fprintf(w, "voxelstream_host_sessions_timed_out_total %d\n", m.SessionsTimedOutTotal)
}

func writeIndexMetrics(w io.Writer, idx runtimeIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()

	fmt.Fprintf(w, "# HELP voxelstream_index_queue_depth Current index write queue depth.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_index_queue_depth gauge\n")
	fmt.Fprintf(w, "voxelstream_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP voxelstream_index_queue_capacity Index write queue capacity.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "voxelstream_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP voxelstream_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_index_dropped_total counter\n")
	fmt.Fprintf(w, "voxelstream_index_dropped_total{kind=%q} %d\n", "session", s.DropSessionTotal)
	fmt.Fprintf(w, "voxelstream_index_dropped_total{kind=%q} %d\n", "column", s.DropColumnTotal)

	fmt.Fprintf(w, "# HELP voxelstream_index_write_errors_total Failed index transactions.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_index_write_errors_total counter\n")
	fmt.Fprintf(w, "voxelstream_index_write_errors_total %d\n", s.WriteErrorTotal)
}
