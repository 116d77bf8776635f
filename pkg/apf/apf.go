// Package apf reads and writes Attention Problem Files.
//
// An APF file carries a grouped attention problem set: the descriptor
// table that shapes it (batch and head counts, head dimensions, per-batch
// sequence lengths) together with the packed Q, K and V operand payloads
// the driver consumes. The layout is a fixed little-endian header, the
// payload sections, and a section directory written last:
//
//	[0]   APFHeader (40 bytes, patched during Finalise)
//	[...] payload sections, each start 8-byte aligned
//	[...] section directory ([]APFSection, offset recorded in the header)
//
// Readers mmap the file where possible so operand payloads can be handed
// to the attention driver without copying.
package apf
