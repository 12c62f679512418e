package cmd

import (
	"errors"
	"fmt"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	errwrap "github.com/linkscanner/linkscanner/internal/errors"
)

// ExitCodeFor maps a command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var envelope *gferrors.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope == nil {
		return foundry.ExitFailure
	}

	switch envelope.Code {
	case errwrap.CodeConfigInvalid, errwrap.CodeInvalidInput:
		return foundry.ExitConfigInvalid
	case errwrap.CodeStorage:
		return foundry.ExitFileNotFound
	case errwrap.CodeExternalService, errwrap.CodeTimeout:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode logs err with exit code metadata and exits the process.
// logger may be nil for failures before logger initialization.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) && envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr writes err to stderr and exits the process.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	fmt.Fprintln(os.Stderr, describeFailure(msg, err))
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}

func describeFailure(msg string, err error) string {
	if err == nil {
		return "FATAL: " + msg
	}

	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) && envelope != nil {
		line := fmt.Sprintf("FATAL: %s [%s]: %s", msg, envelope.Code, envelope.Message)
		if wrapped, ok := envelope.Context["wrapped_error"]; ok {
			line += fmt.Sprintf(": %v", wrapped)
		}
		return line
	}
	return fmt.Sprintf("FATAL: %s: %v", msg, err)
}
