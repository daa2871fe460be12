package session

const (
	msgGreeting = "Привет! Я озвучу ваш текст голосом, похожим на ваш.\n" +
		"Сначала отправьте мне голосовое сообщение, чтобы я проанализировал высоту и темп вашей речи."
	msgCaptureAck     = "Анализирую ваш голос..."
	msgCaptureDone    = "Отлично! Я проанализировал ваш голос. Теперь отправьте текст, который вы хотите озвучить."
	msgCaptureNoPitch = "Не удалось уверенно определить высоту голоса, использую значение по умолчанию. " +
		"Можно отправить другой образец через /start.\nТеперь отправьте текст, который вы хотите озвучить."
	msgReady     = "Готово! Отправьте ещё текст или /start, чтобы начать заново с другим голосом."
	msgCancelled = "Операция отменена. До свидания!"
	msgAdminEnd  = "Сессия завершена администратором."
	msgDiscarded = "Сессия была отменена или начата заново, результат отброшен."
	msgBusy      = "Слишком много запросов, попробуйте через минуту."
	msgHelp      = "Как это работает:\n" +
		"1. /start и голосовое сообщение (5–10 секунд обычной речи).\n" +
		"2. Любой текст, и я озвучу его с высотой вашего голоса.\n" +
		"/cancel удалит образец и завершит сессию."

	msgErrDecode      = "Не удалось прочитать аудио. Пришлите другое голосовое сообщение."
	msgErrEncode      = "Не удалось подготовить голосовое сообщение. Попробуйте ещё раз."
	msgErrSynthesis   = "Сервис синтеза речи сейчас недоступен. Отправьте текст ещё раз чуть позже."
	msgErrRecognition = "Не удалось распознать речь. Попробуйте ещё раз или отправьте текст."
	msgErrCapture     = "Произошла ошибка при анализе вашего голоса. Пожалуйста, попробуйте снова или отправьте другой образец."
	msgErrSynthGen    = "Произошла ошибка при генерации голосового сообщения. Пожалуйста, попробуйте снова."
	msgErrInternal    = "Что-то пошло не так. Попробуйте ещё раз."
	msgEmptyText      = "Пустой текст озвучивать нечего."
	msgNothingHeard   = "В голосовом сообщении не удалось разобрать слов."

	msgGuideStart     = "Отправьте /start, чтобы начать."
	msgGuideNeedVoice = "Сначала отправьте голосовое сообщение, мне нужен образец вашего голоса."
	msgGuideNeedText  = "Образец голоса уже есть. Отправьте текст или /start, чтобы записать новый."
)
