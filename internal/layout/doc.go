// Package layout loads the declarative per-device request layout.
//
// A layout document lists every device the scheduler polls: its CAN id,
// its request frequency and the fields packed into its response payload.
// Field offsets are never written down; each is the running sum of the
// widths of the fields declared before it.
//
//	devices:
//	  - id: 0x100
//	    frequency: 20
//	    payload_length: 8
//	    fields:
//	      - {name: adc_ch1, width: 4, order: big, kind: signed}
//	      - {name: adc_ch2, width: 4, order: big, kind: signed}
//
// The older rtr_ids/freq/variables spelling with "type: int32" shorthand
// is accepted too, so an existing installation's file loads unchanged.
//
// A Registry is immutable once built and safe to share between goroutines
// without locking.
package layout
