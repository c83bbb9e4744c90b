// Package wnbd implements the host-side SCSI request pipeline of a
// WNBD-style miniport: SRB ingress, per-disk request/reply queues, an NBD
// transport codec and dispatcher, a user-space fetch/submit control
// surface, disk lifecycle management, and an adapter-wide disk registry.
//
// A real miniport binds this pipeline to storport through the HostPort
// interface; tests and the demo binary drive it through a mock.
package wnbd
