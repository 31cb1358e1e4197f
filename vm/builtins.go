package vm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// BuiltinFunc implements one Java/Android library method for the concrete
// VM's synthetic runtime dispatch table, so the VM can make progress
// through library calls it has no DEX code for.
type BuiltinFunc func(m *Machine, shorty string, args []Register) (Register, error)

// BuiltinTable is the dispatch table of recognised framework/library
// classes, keyed by type descriptor then method name. A class without an
// exact method match still gets a shorty-synthesised default return, so a
// recognised class is never a hard MethodNotFound; an unrecognised class
// is left to the caller (Machine.invoke) to treat as unresolved.
type BuiltinTable struct {
	classes map[string]map[string]BuiltinFunc
}

// NewBuiltinTable builds the default runtime dispatch table.
func NewBuiltinTable() *BuiltinTable {
	t := &BuiltinTable{classes: make(map[string]map[string]BuiltinFunc)}
	t.registerString()
	t.registerStringBuilder()
	t.registerBase64()
	t.registerMessageDigest()
	t.registerSecretKeySpec()
	t.registerSystem()
	t.registerMath()
	t.registerDebug()
	t.registerInteger()
	t.registerLong()
	t.registerCharset()
	t.registerObjectAndClass()
	t.registerArrays()
	t.registerAndroidStubs()
	return t
}

func (t *BuiltinTable) reg(class, method string, f BuiltinFunc) {
	m, ok := t.classes[class]
	if !ok {
		m = make(map[string]BuiltinFunc)
		t.classes[class] = m
	}
	m[method] = f
}

// Dispatch invokes the built-in for (class, method) if recognised. handled
// is false only when class itself has no built-in entries at all; a known
// class with an unmodelled method still returns a shorty-synthesised
// default rather than reporting unhandled.
func (t *BuiltinTable) Dispatch(m *Machine, class, method, shorty string, args []Register) (Register, bool, error) {
	methods, ok := t.classes[class]
	if !ok {
		return Register{}, false, nil
	}
	if f, ok := methods[method]; ok {
		r, err := f(m, shorty, args)
		return r, true, err
	}
	return SynthesizeArgument(shortyReturn(shorty)), true, nil
}

// NewString allocates a heap-backed Java string.
func (m *Machine) NewString(s string) (Register, error) {
	addr, err := m.Heap.AllocArray([]byte(s))
	if err != nil {
		return Register{}, err
	}
	return RefReg("Ljava/lang/String;", addr), nil
}

// ReadString resolves a heap-backed string register back to a Go string.
func (m *Machine) ReadString(r Register) (string, bool) {
	if r.Kind != RegRef {
		return "", false
	}
	obj, ok := m.Heap.Get(r.Addr)
	if !ok || obj.Array == nil {
		return "", false
	}
	return string(obj.Array), true
}

func (t *BuiltinTable) registerString() {
	const c = "Ljava/lang/String;"
	t.reg(c, "length", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		return IntReg(int32(len([]rune(s)))), nil
	})
	t.reg(c, "isEmpty", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		if len(s) == 0 {
			return IntReg(1), nil
		}
		return IntReg(0), nil
	})
	t.reg(c, "equals", func(m *Machine, shorty string, args []Register) (Register, error) {
		a, _ := m.ReadString(args[0])
		b, okb := m.ReadString(args[1])
		if !okb {
			return IntReg(0), nil
		}
		if a == b {
			return IntReg(1), nil
		}
		return IntReg(0), nil
	})
	t.reg(c, "concat", func(m *Machine, shorty string, args []Register) (Register, error) {
		a, _ := m.ReadString(args[0])
		b, _ := m.ReadString(args[1])
		return m.NewString(a + b)
	})
	t.reg(c, "toUpperCase", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		return m.NewString(strings.ToUpper(s))
	})
	t.reg(c, "toLowerCase", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		return m.NewString(strings.ToLower(s))
	})
	t.reg(c, "trim", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		return m.NewString(strings.TrimSpace(s))
	})
	t.reg(c, "charAt", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		runes := []rune(s)
		idx := int(args[1].AsInt32())
		if idx < 0 || idx >= len(runes) {
			return Register{}, NewException(IndexOutOfBounds, fmt.Sprintf("charAt(%d) on string of length %d", idx, len(runes)))
		}
		return IntReg(runes[idx]), nil
	})
	t.reg(c, "indexOf", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		sub, ok := m.ReadString(args[1])
		if !ok {
			return IntReg(-1), nil
		}
		return IntReg(int32(strings.Index(s, sub))), nil
	})
	t.reg(c, "substring", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		runes := []rune(s)
		start := int(args[1].AsInt32())
		end := len(runes)
		if len(args) > 2 {
			end = int(args[2].AsInt32())
		}
		if start < 0 || end > len(runes) || start > end {
			return Register{}, NewException(IndexOutOfBounds, fmt.Sprintf("substring(%d,%d) on string of length %d", start, end, len(runes)))
		}
		return m.NewString(string(runes[start:end]))
	})
	t.reg(c, "getBytes", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		return m.Heap.allocArrayResult([]byte(s)).toRefOrErr("[B")
	})
	t.reg(c, "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		return args[0], nil
	})
	t.reg(c, "valueOf", func(m *Machine, shorty string, args []Register) (Register, error) {
		if len(args) == 0 {
			return m.NewString("null")
		}
		if s, ok := m.ReadString(args[0]); ok {
			return m.NewString(s)
		}
		return m.NewString(args[0].String())
	})
	t.reg(c, "hashCode", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		var h int32
		for _, r := range s {
			h = 31*h + r
		}
		return IntReg(h), nil
	})
}

// toRefOrErr is a tiny adapter so AllocArray's (addr, err) pair composes
// with builtins that return a ref register on success.
type allocResult struct {
	addr uint32
	err  error
}

func (h *Heap) allocArrayResult(data []byte) allocResult {
	addr, err := h.AllocArray(data)
	return allocResult{addr, err}
}

func (r allocResult) toRefOrErr(typeName string) (Register, error) {
	if r.err != nil {
		return Register{}, r.err
	}
	return RefReg(typeName, r.addr), nil
}

func (t *BuiltinTable) registerStringBuilder() {
	const c = "Ljava/lang/StringBuilder;"
	newSB := func(m *Machine, shorty string, args []Register) (Register, error) {
		addr, inst, err := m.Heap.AllocInstance(c)
		if err != nil {
			return Register{}, err
		}
		inst.State["text"] = ""
		if len(args) > 0 {
			if s, ok := m.ReadString(args[0]); ok {
				inst.State["text"] = s
			}
		}
		return RefReg(c, addr), nil
	}
	t.reg(c, "<init>", newSB)
	t.reg(c, "append", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return Register{}, NewException(InstanceNotFound, "StringBuilder.append on unknown instance")
		}
		text, _ := obj.Object.State["text"].(string)
		var appended string
		if s, ok := m.ReadString(args[1]); ok {
			appended = s
		} else {
			appended = args[1].String()
		}
		obj.Object.State["text"] = text + appended
		return args[0], nil
	})
	t.reg(c, "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return m.NewString("")
		}
		text, _ := obj.Object.State["text"].(string)
		return m.NewString(text)
	})
	t.reg(c, "length", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return IntReg(0), nil
		}
		text, _ := obj.Object.State["text"].(string)
		return IntReg(int32(len([]rune(text)))), nil
	})
}

func (t *BuiltinTable) registerBase64() {
	const c = "Landroid/util/Base64;"
	decode := func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return Register{}, fmt.Errorf("vm: Base64.decode: %w", err)
			}
		}
		return m.Heap.allocArrayResult(decoded).toRefOrErr("[B")
	}
	encode := func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Array == nil {
			return Register{}, NewException(InstanceNotFound, "Base64.encode on non-array argument")
		}
		return m.NewString(base64.StdEncoding.EncodeToString(obj.Array))
	}
	t.reg(c, "decode", decode)
	t.reg(c, "encode", encode)
	t.reg(c, "encodeToString", func(m *Machine, shorty string, args []Register) (Register, error) {
		return encode(m, shorty, args)
	})
}

func (t *BuiltinTable) registerMessageDigest() {
	const c = "Ljava/security/MessageDigest;"
	t.reg(c, "getInstance", func(m *Machine, shorty string, args []Register) (Register, error) {
		algo, _ := m.ReadString(args[0])
		addr, inst, err := m.Heap.AllocInstance(c)
		if err != nil {
			return Register{}, err
		}
		inst.State["algo"] = algo
		inst.State["buf"] = []byte{}
		return RefReg(c, addr), nil
	})
	t.reg(c, "update", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return Register{}, NewException(InstanceNotFound, "MessageDigest.update on unknown instance")
		}
		input, ok := m.Heap.Get(args[1].Addr)
		if !ok || input.Array == nil {
			return EmptyReg(), nil
		}
		buf, _ := obj.Object.State["buf"].([]byte)
		obj.Object.State["buf"] = append(buf, input.Array...)
		return EmptyReg(), nil
	})
	t.reg(c, "digest", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return Register{}, NewException(InstanceNotFound, "MessageDigest.digest on unknown instance")
		}
		algo, _ := obj.Object.State["algo"].(string)
		buf, _ := obj.Object.State["buf"].([]byte)
		var sum []byte
		switch strings.ToUpper(algo) {
		case "SHA-256", "SHA256":
			h := sha256.Sum256(buf)
			sum = h[:]
		case "SHA-1", "SHA1":
			h := sha1.Sum(buf)
			sum = h[:]
		case "MD5":
			h := md5.Sum(buf)
			sum = h[:]
		default:
			return Register{}, NewException(LinkerError, fmt.Sprintf("unsupported MessageDigest algorithm %q", algo))
		}
		return m.Heap.allocArrayResult(sum).toRefOrErr("[B")
	})
}

func (t *BuiltinTable) registerSecretKeySpec() {
	const c = "Ljavax/crypto/spec/SecretKeySpec;"
	t.reg(c, "<init>", func(m *Machine, shorty string, args []Register) (Register, error) {
		addr, inst, err := m.Heap.AllocInstance(c)
		if err != nil {
			return Register{}, err
		}
		if len(args) > 1 {
			if keyObj, ok := m.Heap.Get(args[1].Addr); ok && keyObj.Array != nil {
				inst.State["key"] = keyObj.Array
			}
		}
		if len(args) > 2 {
			if algo, ok := m.ReadString(args[2]); ok {
				inst.State["algo"] = algo
			}
		}
		return RefReg(c, addr), nil
	})
	t.reg(c, "getAlgorithm", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Object == nil {
			return m.NewString("")
		}
		algo, _ := obj.Object.State["algo"].(string)
		return m.NewString(algo)
	})
}

func (t *BuiltinTable) registerSystem() {
	const c = "Ljava/lang/System;"
	t.reg(c, "currentTimeMillis", func(m *Machine, shorty string, args []Register) (Register, error) {
		return WideReg(time.Now().UnixMilli()), nil
	})
	t.reg(c, "nanoTime", func(m *Machine, shorty string, args []Register) (Register, error) {
		return WideReg(time.Now().UnixNano()), nil
	})
	t.reg(c, "arraycopy", func(m *Machine, shorty string, args []Register) (Register, error) {
		if len(args) < 5 {
			return EmptyReg(), nil
		}
		src, ok := m.Heap.Get(args[0].Addr)
		if !ok || src.Array == nil {
			return EmptyReg(), nil
		}
		dst, ok := m.Heap.Get(args[2].Addr)
		if !ok || dst.Array == nil {
			return EmptyReg(), nil
		}
		srcPos, dstPos, length := int(args[1].AsInt32()), int(args[3].AsInt32()), int(args[4].AsInt32())
		if srcPos < 0 || dstPos < 0 || length < 0 || srcPos+length > len(src.Array) || dstPos+length > len(dst.Array) {
			return Register{}, NewException(IndexOutOfBounds, "System.arraycopy out of bounds")
		}
		copy(dst.Array[dstPos:dstPos+length], src.Array[srcPos:srcPos+length])
		return EmptyReg(), nil
	})
}

func (t *BuiltinTable) registerMath() {
	const c = "Ljava/lang/Math;"
	t.reg(c, "abs", func(m *Machine, shorty string, args []Register) (Register, error) {
		v := args[0].AsInt32()
		if v < 0 {
			v = -v
		}
		return IntReg(v), nil
	})
	t.reg(c, "max", func(m *Machine, shorty string, args []Register) (Register, error) {
		a, b := args[0].AsInt32(), args[1].AsInt32()
		if a > b {
			return IntReg(a), nil
		}
		return IntReg(b), nil
	})
	t.reg(c, "min", func(m *Machine, shorty string, args []Register) (Register, error) {
		a, b := args[0].AsInt32(), args[1].AsInt32()
		if a < b {
			return IntReg(a), nil
		}
		return IntReg(b), nil
	})
	t.reg(c, "pow", func(m *Machine, shorty string, args []Register) (Register, error) {
		return WideReg(int64(math.Pow(float64(args[0].AsInt64()), float64(args[1].AsInt64())))), nil
	})
	t.reg(c, "sqrt", func(m *Machine, shorty string, args []Register) (Register, error) {
		return WideReg(int64(math.Sqrt(float64(args[0].AsInt64())))), nil
	})
}

func (t *BuiltinTable) registerDebug() {
	const c = "Landroid/os/Debug;"
	// Hard-coded true: an analysis VM is by construction a debugger, and
	// samples that branch on this check are exactly what xref/flow want
	// to force down both paths anyway.
	t.reg(c, "isDebuggerConnected", func(m *Machine, shorty string, args []Register) (Register, error) {
		return IntReg(1), nil
	})
}

func (t *BuiltinTable) registerInteger() {
	const c = "Ljava/lang/Integer;"
	t.reg(c, "parseInt", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return Register{}, NewException(InvalidRegisterType, fmt.Sprintf("Integer.parseInt(%q): %v", s, err))
		}
		return IntReg(int32(n)), nil
	})
	t.reg(c, "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		return m.NewString(strconv.Itoa(int(args[0].AsInt32())))
	})
	t.reg(c, "valueOf", func(m *Machine, shorty string, args []Register) (Register, error) {
		addr, err := m.Heap.AllocBoxed(args[0])
		if err != nil {
			return Register{}, err
		}
		return RefReg("Ljava/lang/Integer;", addr), nil
	})
}

func (t *BuiltinTable) registerLong() {
	const c = "Ljava/lang/Long;"
	t.reg(c, "parseLong", func(m *Machine, shorty string, args []Register) (Register, error) {
		s, _ := m.ReadString(args[0])
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Register{}, NewException(InvalidRegisterType, fmt.Sprintf("Long.parseLong(%q): %v", s, err))
		}
		return WideReg(n), nil
	})
	t.reg(c, "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		return m.NewString(strconv.FormatInt(args[0].AsInt64(), 10))
	})
}

func (t *BuiltinTable) registerCharset() {
	const c = "Ljava/nio/charset/Charset;"
	t.reg(c, "forName", func(m *Machine, shorty string, args []Register) (Register, error) {
		name, _ := m.ReadString(args[0])
		addr, inst, err := m.Heap.AllocInstance(c)
		if err != nil {
			return Register{}, err
		}
		inst.State["name"] = name
		return RefReg(c, addr), nil
	})
}

func (t *BuiltinTable) registerObjectAndClass() {
	t.reg("Ljava/lang/Object;", "equals", func(m *Machine, shorty string, args []Register) (Register, error) {
		if len(args) < 2 {
			return IntReg(0), nil
		}
		if args[0].Equal(args[1]) {
			return IntReg(1), nil
		}
		return IntReg(0), nil
	})
	t.reg("Ljava/lang/Object;", "hashCode", func(m *Machine, shorty string, args []Register) (Register, error) {
		return IntReg(int32(args[0].Value())), nil
	})
	t.reg("Ljava/lang/Object;", "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		return m.NewString(args[0].String())
	})
	t.reg("Ljava/lang/Class;", "getName", func(m *Machine, shorty string, args []Register) (Register, error) {
		return m.NewString(args[0].Type)
	})
}

func (t *BuiltinTable) registerArrays() {
	const c = "Ljava/util/Arrays;"
	t.reg(c, "toString", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[0].Addr)
		if !ok || obj.Array == nil {
			return m.NewString("null")
		}
		parts := make([]string, len(obj.Array))
		for i, b := range obj.Array {
			parts[i] = strconv.Itoa(int(b))
		}
		return m.NewString("[" + strings.Join(parts, ", ") + "]")
	})
	t.reg(c, "equals", func(m *Machine, shorty string, args []Register) (Register, error) {
		a, okA := m.Heap.Get(args[0].Addr)
		b, okB := m.Heap.Get(args[1].Addr)
		if !okA || !okB || a.Array == nil || b.Array == nil {
			return IntReg(0), nil
		}
		if string(a.Array) == string(b.Array) {
			return IntReg(1), nil
		}
		return IntReg(0), nil
	})
}

// registerAndroidStubs covers the Android framework surface samples reach
// for without needing a real device: each call allocates a plausible
// opaque instance or returns a shorty-synthesised default rather than
// failing, so analysis can walk past framework boundaries it cannot
// meaningfully execute.
func (t *BuiltinTable) registerAndroidStubs() {
	stub := func(class string) {
		t.reg(class, "<init>", func(m *Machine, shorty string, args []Register) (Register, error) {
			addr, _, err := m.Heap.AllocInstance(class)
			if err != nil {
				return Register{}, err
			}
			return RefReg(class, addr), nil
		})
	}
	for _, class := range []string{
		"Landroid/content/Context;",
		"Landroid/content/SharedPreferences;",
		"Landroid/content/res/AssetManager;",
		"Ljava/io/InputStream;",
		"Ljava/security/SecureRandom;",
		"Ljavax/crypto/Cipher;",
		"Ljavax/crypto/KeyGenerator;",
	} {
		stub(class)
	}
	t.reg("Ljava/security/SecureRandom;", "nextBytes", func(m *Machine, shorty string, args []Register) (Register, error) {
		obj, ok := m.Heap.Get(args[1].Addr)
		if !ok || obj.Array == nil {
			return EmptyReg(), nil
		}
		// Deterministic, not cryptographically random: analysis favours
		// reproducibility over realism here.
		for i := range obj.Array {
			obj.Array[i] = byte(m.Heap.rng.next())
		}
		return EmptyReg(), nil
	})
	t.reg("Ljavax/crypto/Cipher;", "getInstance", func(m *Machine, shorty string, args []Register) (Register, error) {
		addr, inst, err := m.Heap.AllocInstance("Ljavax/crypto/Cipher;")
		if err != nil {
			return Register{}, err
		}
		if s, ok := m.ReadString(args[0]); ok {
			inst.State["transform"] = s
		}
		return RefReg("Ljavax/crypto/Cipher;", addr), nil
	})
	t.reg("Ljavax/crypto/Cipher;", "doFinal", func(m *Machine, shorty string, args []Register) (Register, error) {
		// Passthrough: faithfully simulating a cipher transform is out of
		// scope; callers that branch on ciphertext shape still get bytes
		// of the right length to reason about.
		if len(args) < 2 {
			return m.Heap.allocArrayResult(nil).toRefOrErr("[B")
		}
		obj, ok := m.Heap.Get(args[1].Addr)
		if !ok || obj.Array == nil {
			return m.Heap.allocArrayResult(nil).toRefOrErr("[B")
		}
		out := append([]byte(nil), obj.Array...)
		return m.Heap.allocArrayResult(out).toRefOrErr("[B")
	})
}
