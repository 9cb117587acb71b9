package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はUIシェル向けのローカルブリッジAPIを起動することを示す。
	CommandServe Command = "serve"
	// CommandStatus は現在のセッション状態を表示することを示す。
	CommandStatus Command = "status"
	// CommandLogin はメールアドレスとパスワードでログインすることを示す。
	CommandLogin Command = "login"
	// CommandOTP は電話番号の確認コードでログインすることを示す。
	CommandOTP Command = "otp"
	// CommandRegister はユーザー登録を行うことを示す。
	CommandRegister Command = "register"
	// CommandLogout はログアウトすることを示す。
	CommandLogout Command = "logout"
	// CommandThirdParty はブラウザで完了したサードパーティログインを取り込むことを示す。
	CommandThirdParty Command = "third-party"
	// CommandMigrate はセッションストア用のデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandStatus, CommandLogin, CommandOTP, CommandRegister,
		CommandLogout, CommandThirdParty, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		return CommandServe
	}
}

// commandArgs はサブコマンド名を除いたフラグ部分を返す。
func commandArgs(args []string) []string {
	if len(args) == 0 || Command(args[0]) != ParseCommand(args) {
		return nil
	}
	return args[1:]
}
