package driver

import (
	"errors"
	"fmt"
)

// ErrorCode is a status code returned by the controller firmware
type ErrorCode uint32

const (
	CodeSuccess              ErrorCode = 0
	CodeSvcHandlerMissing    ErrorCode = 1
	CodeSoftdeviceNotEnabled ErrorCode = 2
	CodeInternal             ErrorCode = 3
	CodeNoMem                ErrorCode = 4
	CodeNotFound             ErrorCode = 5
	CodeNotSupported         ErrorCode = 6
	CodeInvalidParam         ErrorCode = 7
	CodeInvalidState         ErrorCode = 8
	CodeInvalidLength        ErrorCode = 9
	CodeInvalidFlags         ErrorCode = 10
	CodeInvalidData          ErrorCode = 11
	CodeDataSize             ErrorCode = 12
	CodeTimeout              ErrorCode = 13
	CodeNull                 ErrorCode = 14
	CodeForbidden            ErrorCode = 15
	CodeInvalidAddr          ErrorCode = 16
	CodeBusy                 ErrorCode = 17
	CodeConnCount            ErrorCode = 18
	CodeResources            ErrorCode = 19

	CodeBleNotEnabled        ErrorCode = 0x3001
	CodeBleInvalidConnHandle ErrorCode = 0x3002
	CodeBleInvalidAttrHandle ErrorCode = 0x3003
	CodeBleInvalidRole       ErrorCode = 0x3005

	CodeRPCEncode          ErrorCode = 0x8001
	CodeRPCDecode          ErrorCode = 0x8002
	CodeRPCSend            ErrorCode = 0x8003
	CodeRPCInvalidArgument ErrorCode = 0x8004
	CodeRPCNoResponse      ErrorCode = 0x8005
	CodeRPCInvalidState    ErrorCode = 0x8006

	CodeUnknown ErrorCode = 0xFFFFFFFF
)

var codeNames = map[ErrorCode]string{
	CodeSuccess:              "Success",
	CodeSvcHandlerMissing:    "SvcHandlerMissing",
	CodeSoftdeviceNotEnabled: "SoftdeviceNotEnabled",
	CodeInternal:             "Internal",
	CodeNoMem:                "NoMem",
	CodeNotFound:             "NotFound",
	CodeNotSupported:         "NotSupported",
	CodeInvalidParam:         "InvalidParam",
	CodeInvalidState:         "InvalidState",
	CodeInvalidLength:        "InvalidLength",
	CodeInvalidFlags:         "InvalidFlags",
	CodeInvalidData:          "InvalidData",
	CodeDataSize:             "DataSize",
	CodeTimeout:              "Timeout",
	CodeNull:                 "Null",
	CodeForbidden:            "Forbidden",
	CodeInvalidAddr:          "InvalidAddr",
	CodeBusy:                 "Busy",
	CodeConnCount:            "ConnCount",
	CodeResources:            "Resources",
	CodeBleNotEnabled:        "BleNotEnabled",
	CodeBleInvalidConnHandle: "BleInvalidConnHandle",
	CodeBleInvalidAttrHandle: "BleInvalidAttrHandle",
	CodeBleInvalidRole:       "BleInvalidRole",
	CodeRPCEncode:            "SdRpcEncode",
	CodeRPCDecode:            "SdRpcDecode",
	CodeRPCSend:              "SdRpcSend",
	CodeRPCInvalidArgument:   "SdRpcInvalidArgument",
	CodeRPCNoResponse:        "SdRpcNoResponse",
	CodeRPCInvalidState:      "SdRpcInvalidState",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// NrfError is a non-success status returned by a driver command
type NrfError struct {
	Code ErrorCode
}

// NewError wraps a raw status code. It returns nil for CodeSuccess.
func NewError(code uint32) error {
	if ErrorCode(code) == CodeSuccess {
		return nil
	}
	return &NrfError{Code: ErrorCode(code)}
}

func (e *NrfError) Error() string {
	return fmt.Sprintf("nrf error %s(%d)", e.Code, uint32(e.Code))
}

// Is matches any NrfError with the same code, so callers can compare
// against the sentinels below with errors.Is.
func (e *NrfError) Is(target error) bool {
	t, ok := target.(*NrfError)
	return ok && t.Code == e.Code
}

// Sentinel driver status errors
var (
	ErrInternal             = &NrfError{Code: CodeInternal}
	ErrNoMem                = &NrfError{Code: CodeNoMem}
	ErrNotFound             = &NrfError{Code: CodeNotFound}
	ErrNotSupported         = &NrfError{Code: CodeNotSupported}
	ErrInvalidParam         = &NrfError{Code: CodeInvalidParam}
	ErrInvalidState         = &NrfError{Code: CodeInvalidState}
	ErrInvalidLength        = &NrfError{Code: CodeInvalidLength}
	ErrInvalidData          = &NrfError{Code: CodeInvalidData}
	ErrTimeout              = &NrfError{Code: CodeTimeout}
	ErrBusy                 = &NrfError{Code: CodeBusy}
	ErrConnCount            = &NrfError{Code: CodeConnCount}
	ErrBleNotEnabled        = &NrfError{Code: CodeBleNotEnabled}
	ErrBleInvalidConnHandle = &NrfError{Code: CodeBleInvalidConnHandle}
	ErrRPCNoResponse        = &NrfError{Code: CodeRPCNoResponse}
)

// Errors raised by the driver itself rather than the controller
var (
	ErrPortClosed   = errors.New("driver port is not open")
	ErrPortExists   = errors.New("a driver already exists for this port")
	ErrPortNotFound = errors.New("no driver for this port")
	ErrNoTransport  = errors.New("driver config has no transport")
)
