package errors

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Write renders err as {"error":{code,message,...}} using the status
// registered for its code. Errors outside the taxonomy become server_error.
func Write(w http.ResponseWriter, err error) {
	e, ok := AsError(err)
	if !ok {
		e = ServerError(err)
	}
	WriteJSON(w, e.HTTPStatus(), map[string]interface{}{"error": e.ToJSON()})
}

// WriteStatus renders err like Write but with an explicit status.
func WriteStatus(w http.ResponseWriter, status int, err *Error) {
	WriteJSON(w, status, map[string]interface{}{"error": err.ToJSON()})
}

// WriteSimple renders the flat {"error":"<message>"} shape used by the
// message endpoint. The code and message are repeated at the top level so the
// body still carries both.
func WriteSimple(w http.ResponseWriter, status int, code Code, message string) {
	WriteJSON(w, status, map[string]interface{}{
		"error":   message,
		"code":    string(code),
		"message": message,
	})
}
