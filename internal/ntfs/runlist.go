package ntfs

// run is one decoded mapping-pairs entry: length clusters starting at
// lcn, or a sparse ("hole") run when lcn < 0.
type run struct {
	vcn    int64 // starting virtual cluster number
	length int64 // run length in clusters
	lcn    int64 // starting logical cluster number, -1 for a hole
}

// decodeMappingPairs decodes an NTFS runlist from its compact on-disk
// form: a sequence of header bytes (low nibble = length-field byte
// count, high nibble = offset-field byte count, signed little-endian
// fields follow), terminated by a 0x00 header byte. Grounded on
// wfs_ntfs.c's reliance on libntfs-3g's ntfs_mapping_pairs_decompress;
// this is a from-scratch Go re-implementation of the same documented
// on-disk format since no Go NTFS library exists in the example pack.
func decodeMappingPairs(data []byte, startVCN int64) []run {
	var runs []run
	vcn := startVCN
	lcn := int64(0)
	i := 0

	for i < len(data) {
		header := data[i]
		if header == 0 {
			break
		}
		lengthBytes := int(header & 0x0F)
		offsetBytes := int(header>>4) & 0x0F
		i++

		if i+lengthBytes > len(data) {
			break
		}
		length := decodeUnsigned(data[i : i+lengthBytes])
		i += lengthBytes

		if offsetBytes == 0 {
			// sparse run: no LCN delta, cluster range is a hole
			runs = append(runs, run{vcn: vcn, length: length, lcn: -1})
			vcn += length
			continue
		}

		if i+offsetBytes > len(data) {
			break
		}
		delta := decodeSigned(data[i : i+offsetBytes])
		i += offsetBytes

		lcn += delta
		runs = append(runs, run{vcn: vcn, length: length, lcn: lcn})
		vcn += length
	}

	return runs
}

func decodeUnsigned(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | int64(b[i])
	}
	return v
}

func decodeSigned(b []byte) int64 {
	v := decodeUnsigned(b)
	topBit := int64(1) << uint(len(b)*8-1)
	if v&topBit != 0 {
		v -= topBit << 1
	}
	return v
}
