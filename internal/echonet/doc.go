// Package echonet implements the subset of ECHONET Lite needed to control a
// home air conditioner over the local network.
//
// The package provides:
//   - Frame encoding and decoding (EHD 0x1081, format 1 frames)
//   - EDT codecs for the air conditioner and node profile properties
//   - A UDP client that matches responses to requests by TID
//   - Notification delivery (INF and INFC) in arrival order
//   - Device discovery through the node profile instance list
//
// Wire format of a frame:
//
//	EHD1(1) EHD2(1) TID(2) SEOJ(3) DEOJ(3) ESV(1) OPC(1) [EPC(1) PDC(1) EDT(PDC)]*OPC
//
// All multi-byte integers are big-endian.
package echonet
