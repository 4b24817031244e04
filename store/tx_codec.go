package store

import (
	"bytes"

	btcwire "github.com/btcsuite/btcd/wire"
)

func deserializeTxBytes(raw []byte) (*btcwire.MsgTx, error) {
	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
