package backends

// OpType is an enum of the operations a Backend.Builder supports.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant

	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypePow

	OpTypeNeg
	OpTypeSqrt
	OpTypeRsqrt
	OpTypeExp
	OpTypeLog

	OpTypeConvertDType
	OpTypeBroadcastInDim
	OpTypeReduceSum

	// OpTypeLast is a sentinel, not a valid operation.
	OpTypeLast
)

// IsUnary returns whether the operation takes exactly one data operand.
func (i OpType) IsUnary() bool {
	return i >= OpTypeNeg && i <= OpTypeLog
}

// IsBinary returns whether the operation takes exactly two data operands.
func (i OpType) IsBinary() bool {
	return i >= OpTypeAdd && i <= OpTypePow
}
