package vnpay

// Provider response codes, per the gateway's published table. Unrecognized
// codes fall back to a generic message.
var responseMessages = map[string]string{
	"00": "Transaction approved",
	"07": "Deducted, suspected fraud",
	"09": "Card not registered for online banking",
	"10": "Card verification failed more than 3 times",
	"11": "Payment session expired",
	"12": "Card or account is locked",
	"13": "Wrong one-time password",
	"24": "Transaction cancelled by customer",
	"51": "Insufficient funds",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank under maintenance",
	"79": "Wrong payment password too many times",
}

func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Unknown payment error"
}
