package ethwatch

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func WeiToEthString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	// 18 знаков слишком много для текста; обрежем до 6 после точки
	return decimal.NewFromBigInt(wei, -18).StringFixed(6)
}

func WeiToGweiString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -9).InexactFloat64()
}

// FormatEvent renders ev for the operator chat.
func FormatEvent(ev Event, account common.Address, network string) string {
	var sb strings.Builder

	switch ev.Kind {
	case EventSubscribed:
		fmt.Fprintf(&sb, "👀 Слежу за %s (%s)", account.Hex(), network)
	case EventSubscriptionFailed:
		fmt.Fprintf(&sb, "🛑 Не удалось подписаться на pending-транзакции (%s), вотчер остановлен", network)
	case EventDetected:
		sb.WriteString("⚠️ Исходящая транзакция с отслеживаемого аккаунта")
	case EventEvaluationFailed:
		sb.WriteString("❌ Не удалось проверить баланс, транзакцию не перебиваем")
	case EventInsufficientFunds:
		sb.WriteString("🛑 Не хватает баланса, чтобы перебить транзакцию. Вотчер остановлен, пополни аккаунт и перезапусти")
	case EventBroadcast:
		sb.WriteString("🚀 Замена отправлена")
	case EventBroadcastFailed:
		sb.WriteString("❌ Замена отклонена")
	case EventConfirmation:
		sb.WriteString("⏳ Подтверждение замены")
	case EventTrackingFailed:
		sb.WriteString("❌ Потеряли отслеживание замены")
	case EventCompleted:
		sb.WriteString("✅ Исходная транзакция отменена")
	default:
		sb.WriteString(string(ev.Kind))
	}

	if r := ev.Race; r != nil {
		o := r.Original
		toStr := "contract-creation"
		if o.To != nil {
			toStr = o.To.Hex()
		}

		fmt.Fprintf(&sb, "\n\nOriginal: %s\nNonce: %d\nTo: %s\nValue: %s ETH\nGas price: %s gwei",
			o.Hash.Hex(), o.Nonce, toStr, WeiToEthString(o.Value), WeiToGweiString(o.GasPrice))

		if r.Replacement != (common.Hash{}) {
			fmt.Fprintf(&sb, "\nReplacement: %s", r.Replacement.Hex())
		}
		if r.GasPrice != nil {
			fmt.Fprintf(&sb, "\nReplacement gas price: %s gwei", WeiToGweiString(r.GasPrice))
		}
		if r.Confirmations > 0 {
			fmt.Fprintf(&sb, "\nConfirmations: %d", r.Confirmations)
		}
	}

	if ev.Err != nil {
		fmt.Fprintf(&sb, "\nError: %v", ev.Err)
	}

	return sb.String()
}
