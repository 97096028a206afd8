package virtio

import (
	"encoding/binary"
	"fmt"
)

const (
	// VIRTIO_ID_PMEM is the virtio device type for persistent memory.
	VIRTIO_ID_PMEM = 27

	// VIRTIO_PMEM_SHMCAP_ID_PMEM_REGION is the fixed shared memory region
	// index carrying the pmem address range.
	VIRTIO_PMEM_SHMCAP_ID_PMEM_REGION = 0

	// VIRTIO_PMEM_REQ_TYPE_FLUSH is the only request type: persist all
	// prior writes to the range.
	VIRTIO_PMEM_REQ_TYPE_FLUSH = 0
)

// Config field offsets within struct virtio_pmem_config.
const (
	PmemConfigStart = 0 // le64 start
	PmemConfigSize  = 8 // le64 size
)

const (
	pmemReqSize  = 4 // le32 type
	pmemRespSize = 4 // le32 ret
)

// EncodePmemReq serializes a pmem request of the given type.
func EncodePmemReq(reqType uint32) []byte {
	buf := make([]byte, pmemReqSize)
	binary.LittleEndian.PutUint32(buf, reqType)
	return buf
}

// NewPmemResp allocates a response buffer for the device to fill.
func NewPmemResp() []byte {
	return make([]byte, pmemRespSize)
}

// DecodePmemResp extracts the host status from a response buffer.
// A status of zero means the flush was persisted.
func DecodePmemResp(buf []byte) (uint32, error) {
	if len(buf) < pmemRespSize {
		return 0, fmt.Errorf("virtio-pmem: response too short: %d", len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}
