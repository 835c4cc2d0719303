package httpserver

import "bcpdashboard/portfolio-api/internal/mutation"

const (
	codeLoggedIn           = "LOGGED_IN"
	codeMissingCredentials = "MISSING_CREDENTIALS"
	codeInvalidEmail       = "INVALID_EMAIL"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeInactiveUser       = "INACTIVE_USER"
	codeLoginError         = "LOGIN_ERROR"
	codeRateLimited        = "RATE_LIMITED"
	codeWeakPassword       = "WEAK_PASSWORD"
	codePasswordError      = "PASSWORD_CHANGE_ERROR"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeUnavailable        = "SERVICE_UNAVAILABLE"
)

var messages = map[string]string{
	codeLoggedIn:           "Logged in successfully.",
	codeMissingCredentials: "Email and password are required.",
	codeInvalidEmail:       "Invalid email format.",
	codeInvalidCredentials: "Invalid email or password.",
	codeInactiveUser:       "User account is inactive.",
	codeLoginError:         "Login failed. Please try again later.",
	codeRateLimited:        "Too many requests. Please slow down.",
	codeWeakPassword:       "New password does not meet the password policy.",
	codePasswordError:      "Password change failed. Please try again later.",
	codeMethodNotAllowed:   "Method not allowed.",
	codeUnavailable:        "Service unavailable.",

	string(mutation.OutcomeRowUpdated): "Row updated successfully.",
	string(mutation.OutcomeNoChanges):  "No changes were made to the row.",
	string(mutation.OutcomeRowDeleted): "Row deleted successfully.",

	mutation.CodeMissingHeaders:   "Session-ID and email headers are required.",
	mutation.CodeUnauthorized:     "Unauthorized.",
	mutation.CodeSessionExpired:   "Session expired. Please log in again.",
	mutation.CodeInvalidRequest:   "Invalid request.",
	mutation.CodeInvalidField:     "Invalid field in edited row.",
	mutation.CodeRecordNotFound:   "Record not found.",
	mutation.CodeUpdateError:      "Error updating row.",
	mutation.CodeDeleteError:      "Error deleting row.",
	mutation.CodeAuditError:       "The change was applied but could not be audited.",
	mutation.CodeAuditReadError:   "Error reading audit history.",
	mutation.CodeSessionStoreDown: "Session check failed. Please try again later.",
}

func messageText(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return code
}
