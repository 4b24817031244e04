package wire

import "testing"

func TestMessageTypes(t *testing.T) {
	cases := []struct {
		msg  Message
		want MsgType
	}{
		{ClientVersion{Versions: []int{1}}, MsgClientVersion},
		{ServerVersion{Version: 1}, MsgServerVersion},
		{Initiate{}, MsgInitiate},
		{ProvideRefund{}, MsgProvideRefund},
		{ReturnRefund{}, MsgReturnRefund},
		{ProvideContract{}, MsgProvideContract},
		{ChannelOpen{}, MsgChannelOpen},
		{UpdatePayment{}, MsgUpdatePayment},
		{UpdateAck{}, MsgUpdateAck},
		{Close{}, MsgClose},
		{Error{Code: ErrOther}, MsgError},
	}

	for _, c := range cases {
		if got := c.msg.Type(); got != c.want {
			t.Errorf("%#v.Type() = %v, want %v", c.msg, got, c.want)
		}
	}
}
