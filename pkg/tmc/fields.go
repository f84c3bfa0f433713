// Package tmc speaks the Trinamic TMC2208 single-wire UART protocol:
// register and field definitions plus the request/reply datagram codec.
package tmc

// TMC2208 register addresses.
const (
	RegGCONF     = 0x00
	RegGSTAT     = 0x01
	RegIFCNT     = 0x02
	RegSLAVECONF = 0x03
	RegIOIN      = 0x06
	RegIHOLDIRUN = 0x10
	RegTPOWERDOWN = 0x11
	RegTSTEP     = 0x12
	RegTPWMTHRS  = 0x13
	RegVACTUAL   = 0x22
	RegMSCNT     = 0x6A
	RegCHOPCONF  = 0x6C
	RegDRVSTATUS = 0x6F
	RegPWMCONF   = 0x70
)

// Field masks per register. A field's value occupies the contiguous set
// bits of its mask.
var Fields = map[int]map[string]uint32{
	RegGCONF: {
		"i_scale_analog":   1 << 0,
		"internal_rsense":  1 << 1,
		"en_spreadcycle":   1 << 2,
		"shaft":            1 << 3,
		"index_otpw":       1 << 4,
		"index_step":       1 << 5,
		"pdn_disable":      1 << 6,
		"mstep_reg_select": 1 << 7,
		"multistep_filt":   1 << 8,
	},
	RegGSTAT: {
		"reset":  1 << 0,
		"drv_err": 1 << 1,
		"uv_cp":  1 << 2,
	},
	RegIHOLDIRUN: {
		"ihold":      0x1f << 0,
		"irun":       0x1f << 8,
		"iholddelay": 0x0f << 16,
	},
	RegCHOPCONF: {
		"toff":   0x0f << 0,
		"hstrt":  0x07 << 4,
		"hend":   0x0f << 7,
		"tbl":    0x03 << 15,
		"vsense": 1 << 17,
		"mres":   0x0f << 24,
		"intpol": 1 << 28,
		"dedge":  1 << 29,
	},
	RegDRVSTATUS: {
		"otpw":       1 << 0,
		"ot":         1 << 1,
		"s2ga":       1 << 2,
		"s2gb":       1 << 3,
		"s2vsa":      1 << 4,
		"s2vsb":      1 << 5,
		"ola":        1 << 6,
		"olb":        1 << 7,
		"t120":       1 << 8,
		"t143":       1 << 9,
		"t150":       1 << 10,
		"t157":       1 << 11,
		"cs_actual":  0x1f << 16,
		"stealth":    1 << 30,
		"stst":       1 << 31,
	},
	RegPWMCONF: {
		"pwm_ofs":       0xff << 0,
		"pwm_grad":      0xff << 8,
		"pwm_freq":      0x03 << 16,
		"pwm_autoscale": 1 << 22,
		"pwm_autograd":  1 << 23,
		"freewheel":     0x03 << 24,
	},
}

// ffs returns the position of the first set bit in a mask.
func ffs(mask uint32) uint {
	if mask == 0 {
		return 0
	}
	var pos uint
	for mask&1 == 0 {
		mask >>= 1
		pos++
	}
	return pos
}

// GetField extracts the named field from a register value.
func GetField(reg int, field string, value uint32) uint32 {
	mask := Fields[reg][field]
	return (value & mask) >> ffs(mask)
}

// SetField returns value with the named field replaced.
func SetField(reg int, field string, value, fieldValue uint32) uint32 {
	mask := Fields[reg][field]
	return (value &^ mask) | ((fieldValue << ffs(mask)) & mask)
}

// MicrostepToMRES maps a microstep factor to the CHOPCONF mres code.
// Supported factors are the powers of two from 1 to 256.
func MicrostepToMRES(factor int) (uint32, bool) {
	mres := uint32(8)
	for f := 1; f <= 256; f <<= 1 {
		if f == factor {
			return mres, true
		}
		mres--
	}
	return 0, false
}
