package notify

import "fmt"

func Subject(alert AlertContext) string {
	return fmt.Sprintf("Price alert: %s", alert.ProductName)
}

// Body — простой текстовый вариант сообщения, общий для всех каналов.
func Body(alert AlertContext) string {
	msg := fmt.Sprintf("The price for %s has dropped to %s %s, below your target price of %s %s!",
		alert.ProductName,
		alert.CurrentPrice.StringFixed(2), alert.Currency,
		alert.TargetPrice.StringFixed(2), alert.Currency,
	)
	if alert.ProductURL != "" {
		msg += "\n" + alert.ProductURL
	}
	return msg
}
