// Package er provides a typed-error convention used across the indexer:
// every package defines a package-level ErrorType and a handful of
// ErrorCode values, and every fallible function returns (T, er.R) instead
// of a bare error. This lets callers match on a specific error code
// (Is/Decode) while still carrying an optional wrapped cause and stack
// trace, and lets the Updater's error taxonomy (transient/fatal/parse)
// dispatch on error identity rather than string matching.
package er

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"runtime/debug"
	"strings"
)

// GenericErrorType is for packages with only one or two error codes which
// don't make sense having their own error type.
var GenericErrorType = NewErrorType("er.GenericErrorType")

var ErrUnexpectedEOF = GenericErrorType.CodeWithDefault("ErrUnexpectedEOF", io.ErrUnexpectedEOF)
var EOF = GenericErrorType.CodeWithDefault("EOF", io.EOF)

// ErrorCode identifies a particular type of fault within an ErrorType.
type ErrorCode struct {
	Detail         string
	Number         int
	Type           *ErrorType
	defaultWrapped error
}

type typedErr struct {
	messages []string
	errType  *ErrorType
	code     *ErrorCode
	err      R
}

// ErrorType is a generic type of error; each type can have many error codes.
type ErrorType struct {
	Name       string
	codeLookup map[int]*ErrorCode
	Codes      []*ErrorCode
}

// NewErrorType creates a new error type identified by name, e.g.
// var Err = er.NewErrorType("mypackage.Err")
func NewErrorType(ident string) ErrorType {
	return ErrorType{
		Name:       ident,
		codeLookup: make(map[int]*ErrorCode),
	}
}

// Is reports whether err was created from this exact error code.
func (c *ErrorCode) Is(err R) bool {
	if err == nil {
		return c == nil
	}
	if te, ok := err.(typedErr); ok {
		return te.code == c
	}
	return false
}

func (c *ErrorCode) new(info string, err R, bstack []byte) R {
	var messages []string
	if info == "" {
		messages = []string{c.Detail}
	} else {
		messages = []string{c.Detail, info}
	}
	if err == nil {
		if bstack == nil {
			bstack = captureStack()
		}
		err = newErr("", bstack)
	} else if te, ok := err.(typedErr); ok {
		if te.code == c {
			if info != "" {
				te.messages = append(messages, te.messages...)
			}
			return te
		}
	}
	return typedErr{
		messages: messages,
		errType:  c.Type,
		code:     c,
		err:      err,
	}
}

// New wraps err (or, if nil, a fresh stack capture) with this error code.
func (c *ErrorCode) New(info string, err R) R {
	if err == nil {
		return c.new(info, nil, captureStack())
	}
	return c.new(info, err, nil)
}

// Is reports whether err was created from any code of this ErrorType.
func (e *ErrorType) Is(err R) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(typedErr); ok {
		return te.errType == e
	}
	return false
}

// Decode returns the ErrorCode that produced err, or nil.
func (e *ErrorType) Decode(err R) *ErrorCode {
	if err == nil {
		return nil
	}
	if te, ok := err.(typedErr); ok {
		return te.code
	}
	return nil
}

func (e *ErrorType) newErrorCode(number int, hasNumber bool, info string, detail string) *ErrorCode {
	header := info
	if hasNumber {
		header = fmt.Sprintf("%s(%d)", info, number)
	}
	if detail != "" {
		header = header + ": " + detail
	}
	result := &ErrorCode{
		Detail: header,
		Type:   e,
		Number: number,
	}
	if hasNumber {
		e.codeLookup[number] = result
	}
	e.Codes = append(e.Codes, result)
	return result
}

// Default returns the error code as an R, preferring its default wrapped
// cause (set via CodeWithDefault) if one was registered.
func (c *ErrorCode) Default() R {
	if c.defaultWrapped != nil {
		return c.new("", wrapNative(c.defaultWrapped), nil)
	}
	return c.new("", nil, captureStack())
}

// Code registers a new, unnumbered error code on this type.
func (e *ErrorType) Code(info string) *ErrorCode {
	return e.newErrorCode(0, false, info, "")
}

// CodeWithDefault registers a code whose Default() wraps defaultError.
func (e *ErrorType) CodeWithDefault(info string, defaultError error) *ErrorCode {
	ec := e.newErrorCode(0, false, info, "")
	ec.defaultWrapped = defaultError
	return ec
}

func (e *ErrorType) CodeWithDetail(info string, detail string) *ErrorCode {
	return e.newErrorCode(0, false, info, detail)
}

func (e *ErrorType) CodeWithNumber(info string, number int) *ErrorCode {
	return e.newErrorCode(number, true, info, "")
}

func (e *ErrorType) CodeWithNumberAndDetail(info string, number int, detail string) *ErrorCode {
	return e.newErrorCode(number, true, info, detail)
}

func (e *ErrorType) NumberToCode(number int) *ErrorCode {
	return e.codeLookup[number]
}

func (te typedErr) AddMessage(m string) {
	te.messages = append([]string{m}, te.messages...)
}

func (te typedErr) Message() string {
	tem := te.err.Message()
	if tem == "" {
		return strings.Join(te.messages, ": ")
	}
	return fmt.Sprintf("%s: %s", strings.Join(te.messages, ": "), tem)
}

func (te typedErr) HasStack() bool { return te.err.HasStack() }
func (te typedErr) Stack() []string { return te.err.Stack() }

func (te typedErr) String() string {
	s := ""
	if te.err.HasStack() {
		s = "\n\n" + strings.Join(te.err.Stack(), "\n") + "\n"
	}
	return te.Message() + s
}

func (te typedErr) Error() string { return te.String() }
func (te typedErr) Wrapped0() error { return te.err.Wrapped0() }

type typedErrAsNative struct{ e typedErr }

func (ten typedErrAsNative) Error() string { return ten.e.String() }
func (te typedErr) Native() error          { return typedErrAsNative{e: te} }

// R is the interface implemented by every error produced by this package.
// It is the return type used in place of the bare `error` interface for
// any fallible function whose caller may need to match on error identity.
type R interface {
	Message() string
	Stack() []string
	HasStack() bool
	String() string
	Wrapped0() error
	Native() error
	AddMessage(m string)
}

type errImpl struct {
	messages []string
	e        error
	bstack   []byte
	stack    []string
}

type errAsNative struct{ e errImpl }

func (e errAsNative) Error() string { return e.e.String() }
func (e errImpl) HasStack() bool    { return e.bstack != nil }

var argumentsRegex = regexp.MustCompile(`\([0-9a-fx, \.]*\)$`)
var prefixRegex = regexp.MustCompile(`^.*/btcrunes/runeindexer/`)
var goFileRegex = regexp.MustCompile(`\.go:[0-9]+ `)

func (e errImpl) Stack() []string {
	if e.stack == nil {
		s := strings.Split(string(e.bstack), "\n")
		if len(s) > 5 {
			s = s[5:]
		}
		var stack []string
		fun := ""
		for i := range s {
			x := argumentsRegex.ReplaceAllString(s[i], "()")
			x = prefixRegex.ReplaceAllString(x, "")
			x = "  " + strings.TrimSpace(x)
			if !goFileRegex.MatchString(x) {
				fun = x
			} else {
				stack = append(stack, x+"\t"+fun)
			}
		}
		e.stack = stack
	}
	return e.stack
}

func (e errImpl) AddMessage(m string) {
	if e.messages == nil {
		e.messages = []string{m, e.e.Error()}
	} else {
		e.messages = append([]string{m}, e.messages...)
	}
}

func (e errImpl) Message() string {
	if e.messages == nil {
		return e.e.Error()
	}
	return strings.Join(e.messages, ", ")
}

func (e errImpl) String() string {
	s := ""
	if e.bstack != nil {
		s = "\n\n" + strings.Join(e.Stack(), "\n") + "\n"
	}
	return e.Message() + s
}

func (e errImpl) Error() string   { return e.String() }
func (e errImpl) Wrapped0() error { return e.e }
func (e errImpl) Native() error   { return errAsNative{e: e} }

func captureStack() []byte { return debug.Stack() }

// Wrapped returns the raw error wrapped by err, if any.
func Wrapped(err R) error {
	if err == nil {
		return nil
	}
	return err.Wrapped0()
}

// Native returns err as a plain `error`, suitable for errors.Is/As chains
// outside this package (e.g. when handing an error to a library that only
// understands the standard error interface).
func Native(err R) error {
	if err == nil {
		return nil
	}
	return err.Native()
}

func newErr(s string, bstack []byte) R {
	return errImpl{e: errors.New(s), bstack: bstack}
}

// New creates a fresh, untyped error with a captured stack trace.
func New(s string) R {
	return newErr(s, captureStack())
}

// Errorf is fmt.Errorf for R.
func Errorf(format string, a ...interface{}) R {
	return errImpl{e: fmt.Errorf(format, a...), bstack: captureStack()}
}

func wrapNative(e error) R {
	return errImpl{e: e, bstack: captureStack()}
}

// E wraps a plain `error` (e.g. returned by a Store driver or an RPC
// client) as an R, unwrapping it back to its original typed form if it was
// itself produced by Native().
func E(e error) R {
	if e == nil {
		return nil
	}
	if en, ok := e.(errAsNative); ok {
		return en.e
	}
	if en, ok := e.(typedErrAsNative); ok {
		return en.e
	}
	switch e {
	case io.ErrUnexpectedEOF:
		return ErrUnexpectedEOF.Default()
	case io.EOF:
		return EOF.Default()
	default:
		return wrapNative(e)
	}
}

func equals(e, r R, fuzzy bool) bool {
	if e == nil || r == nil {
		return e == nil && r == nil
	}
	if te, ok := e.(typedErr); ok {
		if tr, ok := r.(typedErr); ok {
			return te.code == tr.code
		}
		return false
	}
	if ei, ok := e.(errImpl); ok {
		if ri, ok := r.(errImpl); ok {
			if ei.e != nil && ri.e != nil {
				if ei.e == ri.e {
					return true
				}
				if fuzzy {
					return reflect.TypeOf(ei.e) == reflect.TypeOf(ri.e)
				}
			}
			return false
		}
		return false
	}
	panic("er: unrecognized error implementation: " + reflect.TypeOf(e).Name())
}

// Equals reports whether two errors were built from the same error code
// (typed errors) or wrap the identical underlying error value.
func Equals(e, r R) bool { return equals(e, r, false) }

// FuzzyEquals is like Equals but for wrapped native errors considers two
// errors equal if they share a dynamic type, not identity.
func FuzzyEquals(e, r R) bool { return equals(e, r, true) }

var errLoopBreak = errors.New("loop break (if you're seeing this, it should have been caught)")

// LoopBreak is a sentinel (non-)error used to break out of a forEach-style
// callback loop early without treating it as a real failure.
var LoopBreak = E(errLoopBreak)

// IsLoopBreak reports whether e is the LoopBreak sentinel.
func IsLoopBreak(e R) bool {
	ei, ok := e.(errImpl)
	return ok && ei.e == errLoopBreak
}

// Cis ("code is") reports whether e was produced by code, treating a nil
// code as matching only a nil error.
func Cis(code *ErrorCode, e R) bool {
	if code == nil {
		return e == nil
	}
	return code.Is(e)
}
