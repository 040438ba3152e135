package relay

// FeeResponse is the relayer's quote for one packet
type FeeResponse struct {
	NativeFee   string `json:"native_fee"`
	AltTokenFee string `json:"alt_token_fee"`
}

// PacketRequest is the body of a packet submission
type PacketRequest struct {
	PacketID string      `json:"packet_id"`
	SrcEid   uint32      `json:"src_eid"`
	Sender   string      `json:"sender"`
	DstEid   uint32      `json:"dst_eid"`
	Receiver string      `json:"receiver"`
	Payload  string      `json:"payload"`
	Options  string      `json:"options"`
	Fee      FeeResponse `json:"fee"`
	Refund   string      `json:"refund"`
}

// PacketResponse is the relayer's receipt for an accepted packet
type PacketResponse struct {
	GUID  string      `json:"guid"`
	Nonce uint64      `json:"nonce"`
	Fee   FeeResponse `json:"fee"`
}
