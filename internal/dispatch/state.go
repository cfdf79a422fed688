package dispatch

import (
	"net/http"
	"net/url"
)

// RequestState collects request modifiers set by earlier steps. It is
// consumed and reset by the next Dispatch.
type RequestState struct {
	Headers    http.Header
	Query      url.Values
	PathParams map[string]string
	Cookies    []*http.Cookie
	Token      string
}

func NewRequestState() *RequestState {
	s := &RequestState{}
	s.Reset()
	return s
}

func (s *RequestState) SetHeader(name, value string) {
	s.Headers.Set(name, value)
}

func (s *RequestState) AddQueryParam(name, value string) {
	s.Query.Add(name, value)
}

func (s *RequestState) SetPathParam(name, value string) {
	s.PathParams[name] = value
}

func (s *RequestState) SetCookie(name, value string) {
	s.Cookies = append(s.Cookies, &http.Cookie{Name: name, Value: value})
}

func (s *RequestState) SetToken(token string) {
	s.Token = token
}

// Reset empties the state
func (s *RequestState) Reset() {
	s.Headers = make(http.Header)
	s.Query = make(url.Values)
	s.PathParams = make(map[string]string)
	s.Cookies = nil
	s.Token = ""
}

// IsEmpty reports whether no modifier is set
func (s *RequestState) IsEmpty() bool {
	return len(s.Headers) == 0 && len(s.Query) == 0 && len(s.PathParams) == 0 &&
		len(s.Cookies) == 0 && s.Token == ""
}
