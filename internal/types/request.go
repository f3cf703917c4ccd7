package types

type RequestCreateSession struct {
	SessionName string `json:"sessionName"`
}

type RequestSendMessage struct {
	SessionName string `json:"sessionName"`
	Phone       string `json:"phone"`
	Message     string `json:"message"`
}

type RequestSendImage struct {
	SessionName string `json:"sessionName"`
	Phone       string `json:"phone"`
	Caption     string `json:"caption"`
	// Image is base64 encoded, with or without a data URI prefix.
	Image string `json:"image"`
}
