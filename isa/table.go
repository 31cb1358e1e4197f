package isa

// table maps every opcode byte this decoder recognises to its decode
// function. New opcodes are a single insertion here, matching the
// "decode(...) is a large switch... behind a single function" guidance:
// the switch lives in the map, Decode just looks it up.
var table = map[Op]decodeFunc{}

// mnemonics gives the VM and symbolic interpreter a stable name to branch
// on for opcodes whose Kind is shared by many mnemonics (KindBinaryOp
// covers 32 distinct add/sub/mul/... variants, for instance).
var mnemonics = map[Op]string{}

func reg(op byte, name string, kind Kind, f decodeFunc) {
	table[Op(op)] = f
	mnemonics[Op(op)] = name
}

func init() {
	reg(0x00, "nop", KindNop, format10x(KindNop))
	reg(0x01, "move", KindMove, format12x(KindMove))
	reg(0x07, "move-object", KindMove, format12x(KindMove))
	reg(0x0a, "move-result", KindMove, format11x(KindMove))
	reg(0x0b, "move-result-wide", KindMove, format11x(KindMove))
	reg(0x0c, "move-result-object", KindMove, format11x(KindMove))
	reg(0x0d, "move-exception", KindMove, format11x(KindMove))
	reg(0x0e, "return-void", KindReturn, format10x(KindReturn))
	reg(0x0f, "return", KindReturn, format11x(KindReturn))
	reg(0x10, "return-wide", KindReturn, format11x(KindReturn))
	reg(0x11, "return-object", KindReturn, format11x(KindReturn))
	reg(0x12, "const/4", KindConst, format11n())
	reg(0x13, "const/16", KindConst, format21s(KindConst))
	reg(0x14, "const", KindConst, format31i(KindConst))
	reg(0x15, "const/high16", KindConst, format21h(KindConst, false))
	reg(0x16, "const-wide/16", KindConst, format21s(KindConst))
	reg(0x17, "const-wide/32", KindConst, format31i(KindConst))
	reg(0x18, "const-wide", KindConst, format51l())
	reg(0x19, "const-wide/high16", KindConst, format21h(KindConst, true))
	reg(0x1a, "const-string", KindConstString, format21c(KindConstString))
	reg(0x1b, "const-string/jumbo", KindConstString, format31c())
	reg(0x1c, "const-class", KindConstClass, format21c(KindConstClass))
	reg(0x1d, "monitor-enter", KindMonitor, format11x(KindMonitor))
	reg(0x1e, "monitor-exit", KindMonitor, format11x(KindMonitor))
	reg(0x1f, "check-cast", KindCheckCast, format21c(KindCheckCast))
	reg(0x20, "instance-of", KindInstanceOf, format22c(KindInstanceOf))
	reg(0x21, "array-length", KindArrayLen, format12x(KindArrayLen))
	reg(0x22, "new-instance", KindNewInstance, format21c(KindNewInstance))
	reg(0x23, "new-array", KindNewArray, format22c(KindNewArray))
	reg(0x24, "filled-new-array", KindFilledNewArray, format35c(KindFilledNewArray))
	reg(0x25, "filled-new-array/range", KindFilledNewArray, format3rc(KindFilledNewArray))
	reg(0x26, "fill-array-data", KindFillArrayData, format31t(KindFillArrayData))
	reg(0x27, "throw", KindThrow, format11x(KindThrow))
	reg(0x28, "goto", KindGoto, format10t())
	reg(0x29, "goto/16", KindGoto, format20t())
	reg(0x2a, "goto/32", KindGoto, format30t())
	reg(0x2b, "packed-switch", KindSwitch, format31t(KindSwitch))
	reg(0x2c, "sparse-switch", KindSwitch, format31t(KindSwitch))

	cmpNames := []string{"cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long"}
	for i, n := range cmpNames {
		reg(byte(0x2d+i), n, KindCmp, format23x(KindCmp))
	}

	ifTest := []string{"if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le"}
	for i, n := range ifTest {
		reg(byte(0x32+i), n, KindIfTest, format22t())
	}
	ifTestZ := []string{"if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez"}
	for i, n := range ifTestZ {
		reg(byte(0x38+i), n, KindIfTestZ, format21t())
	}

	arrayOps := []string{"aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short",
		"aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short"}
	for i, n := range arrayOps {
		reg(byte(0x44+i), n, KindArrayOp, format23x(KindArrayOp))
	}

	instanceOps := []string{"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short"}
	for i, n := range instanceOps {
		reg(byte(0x52+i), n, KindInstanceFieldOp, format22c(KindInstanceFieldOp))
	}

	staticOps := []string{"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short"}
	for i, n := range staticOps {
		reg(byte(0x60+i), n, KindStaticFieldOp, format21c(KindStaticFieldOp))
	}

	invokeKinds := []string{"invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface"}
	for i, n := range invokeKinds {
		reg(byte(0x6e+i), n, KindInvoke, format35c(KindInvoke))
	}
	for i, n := range invokeKinds {
		reg(byte(0x74+i), n+"/range", KindInvoke, format3rc(KindInvoke))
	}

	unops := []string{"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double", "double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short"}
	for i, n := range unops {
		reg(byte(0x7b+i), n, KindUnaryOp, format12x(KindUnaryOp))
	}

	binopNames := []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int", "shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long", "or-long", "xor-long", "shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	for i, n := range binopNames {
		reg(byte(0x90+i), n, KindBinaryOp, format23x(KindBinaryOp))
	}
	for i, n := range binopNames {
		reg(byte(0xb0+i), n+"/2addr", KindBinaryOp, format12x(KindBinaryOp))
	}

	lit16Names := []string{"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16", "rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16"}
	for i, n := range lit16Names {
		reg(byte(0xd0+i), n, KindBinaryOpLit, format22s())
	}
	lit8Names := []string{"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8",
		"and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8"}
	for i, n := range lit8Names {
		reg(byte(0xe0+i), n, KindBinaryOpLit, format22b())
	}
}

// BaseMnemonic strips the "/2addr" suffix from name, so flow and vm can
// share one evaluation table keyed by base mnemonic.
func BaseMnemonic(name string) string {
	const suffix = "/2addr"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}
